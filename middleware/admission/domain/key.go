package domain

import (
	"net"
	"net/netip"
	"strings"
)

// Key identifica uma partição (um chamador) dentro do namespace de uma política.
type Key string

// KeyBypass é o sentinela reservado para chamadores que nunca são limitados
// (loopback, entrada não-parseável). Nunca vira partição em nenhum limiter.
const KeyBypass Key = "!bypass"

// Source indica de onde a chave foi derivada.
type Source int

const (
	// SourceIdentity: identidade verificada pelo subsistema de autenticação.
	SourceIdentity Source = iota
	// SourceHeader: primeiro IP do header de forwarding confiável (XFF).
	SourceHeader
	// SourceRemote: endereço remoto da conexão.
	SourceRemote
	// SourceBypass: sem limitação (loopback ou entrada malformada).
	SourceBypass
)

// Caller é o recorte da fronteira de entrada que a resolução de chave enxerga.
//
// Identity vem do colaborador de autenticação ("" quando anônimo).
// ForwardedFor é o valor cru do header confiável (pode ter vários IPs separados
// por vírgula). RemoteAddr é o endereço da conexão ("host:porta" ou só host).
type Caller struct {
	Identity     string
	ForwardedFor string
	RemoteAddr   string
}

// Resolution é o resultado etiquetado da resolução de chave.
//
// Malformed carrega a entrada original quando o parse de IP falhou e a
// resolução degradou para bypass (fail-open). Serve só para log de baixa
// severidade; nunca é exposto ao chamador.
type Resolution struct {
	Key       Key
	Source    Source
	Malformed string
}

// Bypass informa se a resolução dispensa qualquer limitação.
func (r Resolution) Bypass() bool { return r.Key == KeyBypass }

// Resolve deriva a chave de partição de um chamador. Função pura: mesma
// entrada, mesma saída, sem efeito colateral.
//
// Precedência:
//  1. identidade verificada (namespace "user:" para não colidir com IPs)
//  2. primeiro IP do header de forwarding confiável (fronteira de confiança
//     declarada: o proxy upstream é assumido idôneo, não validamos a cadeia)
//  3. host do endereço remoto
//
// O candidato derivado de IP é parseado; se falhar, degrada para bypass em vez
// de rejeitar. Loopback no endereço remoto também vira bypass (health checks
// internos, tooling local). Loopback alegado via header NÃO dá bypass: o
// header é influenciável na borda, o socket não.
func Resolve(c Caller) Resolution {
	if id := strings.TrimSpace(c.Identity); id != "" {
		return Resolution{Key: Key("user:" + id), Source: SourceIdentity}
	}

	if c.ForwardedFor != "" {
		first := c.ForwardedFor
		if i := strings.IndexByte(first, ','); i >= 0 {
			first = first[:i]
		}
		first = strings.TrimSpace(first)
		if first != "" {
			addr, err := netip.ParseAddr(first)
			if err != nil {
				return Resolution{Key: KeyBypass, Source: SourceBypass, Malformed: first}
			}
			return Resolution{Key: Key("ip:" + addr.String()), Source: SourceHeader}
		}
	}

	host := strings.TrimSpace(c.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil && h != "" {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return Resolution{Key: KeyBypass, Source: SourceBypass, Malformed: host}
	}
	if addr.IsLoopback() {
		return Resolution{Key: KeyBypass, Source: SourceBypass}
	}
	return Resolution{Key: Key("ip:" + addr.String()), Source: SourceRemote}
}
