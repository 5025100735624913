// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - SlidingWindow, TokenBucket, FixedWindow, Semaphore: os quatro algoritmos
//     de admissão, um estado por partição atrás do próprio mutex
//   - Store: cache de partições por (política, chave) com sweep de inativas
//   - MemoryEventStore / RedisEventStore: coletores de eventos de admissão
package infra
