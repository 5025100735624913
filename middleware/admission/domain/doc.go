// Package domain define contratos e tipos de domínio do motor de admissão.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de
// admissão (chave, política, fila, rejeição) de detalhes de infraestrutura.
package domain
