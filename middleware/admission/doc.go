// Package admission fornece o adapter HTTP (net/http) do motor de controle de
// admissão particionado.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (chave de partição, política, limiter, fila)
//   - application: casos de uso (controller de admissão, reporter de rejeição)
//   - infra: os quatro algoritmos, o store de partições, coletores de eventos
//   - admission (este pacote): middleware HTTP + extração do chamador +
//     tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai o chamador (identidade verificada / XFF confiável / RemoteAddr)
//  2. Chama Controller.Admit para a política da rota (a global vem embutida)
//  3. Se rejeitado, responde 429 com Retry-After (503 em shutdown)
//  4. Se admitido, chama o próximo handler e libera os leases ao final
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como TRUST_XFF, LIMITS_CONFIG e EVENTS_REDIS_ADDR.
package admission
