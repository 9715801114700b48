package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

type KeyFunc func(r *http.Request) string

// KeyOptions controla como a chave do cliente (ClientKey) é derivada.
type KeyOptions struct {
	// Header com a chave explícita (ex: X-Api-Key). Vazio = usar IP.
	Header string
	// TrustXForwardedFor confia no X-Forwarded-For de qualquer origem.
	TrustXForwardedFor bool
	// TrustedProxies: só confia no X-Forwarded-For quando RemoteAddr está na lista.
	TrustedProxies ProxyList
	// IPv6Prefix agrupa clientes IPv6 pelo prefixo (0 = endereço completo).
	IPv6Prefix int
}

// ProxyList é um conjunto de IPs/CIDRs em tries v4/v6.
type ProxyList struct {
	v4 *ipaddr.IPv4AddressTrie
	v6 *ipaddr.IPv6AddressTrie
}

// NewProxyList monta a lista; entradas inválidas são devolvidas em rejected.
func NewProxyList(cidrs []string) (list ProxyList, rejected []string) {
	list = ProxyList{v4: &ipaddr.IPv4AddressTrie{}, v6: &ipaddr.IPv6AddressTrie{}}
	for _, c := range cidrs {
		addr, err := ipaddr.NewIPAddressString(strings.TrimSpace(c)).ToAddress()
		if err != nil || addr == nil {
			rejected = append(rejected, c)
			continue
		}
		if addr.IsIPv4() {
			list.v4.Add(addr.ToIPv4())
		} else if addr.IsIPv6() {
			list.v6.Add(addr.ToIPv6())
		}
	}
	return list, rejected
}

func (l ProxyList) Empty() bool {
	return l.v4 == nil || l.v6 == nil || (l.v4.Size() == 0 && l.v6.Size() == 0)
}

func (l ProxyList) Contains(host string) bool {
	if l.Empty() {
		return false
	}
	addr, err := ipaddr.NewIPAddressString(host).ToAddress()
	if err != nil || addr == nil {
		return false
	}
	return (addr.IsIPv4() && l.v4.ElementContains(addr.ToIPv4())) ||
		(addr.IsIPv6() && l.v6.ElementContains(addr.ToIPv6()))
}

func DefaultKeyFunc(opts KeyOptions) KeyFunc {
	return func(r *http.Request) string {
		if opts.Header != "" {
			if v := strings.TrimSpace(r.Header.Get(opts.Header)); v != "" {
				return v
			}
		}

		remote := remoteHost(r.RemoteAddr)

		if opts.TrustXForwardedFor || opts.TrustedProxies.Contains(remote) {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return normalizeIP(ip, opts.IPv6Prefix)
				}
			}
		}

		if remote != "" {
			return normalizeIP(remote, opts.IPv6Prefix)
		}
		return "unknown"
	}
}

func remoteHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	return remoteAddr
}

// normalizeIP devolve a forma canônica do IP; IPv6 é reduzido ao bloco do
// prefixo. Valores que não são IP voltam como vieram.
func normalizeIP(s string, v6Prefix int) string {
	addr, err := ipaddr.NewIPAddressString(s).ToAddress()
	if err != nil || addr == nil {
		return s
	}
	if addr.IsIPv6() && v6Prefix > 0 && v6Prefix < 128 {
		return addr.ToPrefixBlockLen(ipaddr.BitCount(v6Prefix)).String()
	}
	return addr.String()
}
