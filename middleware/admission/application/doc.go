// Package application contém os casos de uso do motor de admissão.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Controller.Admit(ctx, policy, caller) resolve a chave, consulta a
// política global e a nomeada, espera na fila quando preciso e devolve um
// Result (admitido + release, ou rejeição + retry-after).
package application
