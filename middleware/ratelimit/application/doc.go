// Package application contém os casos de uso (regras de aplicação) para rate limit
// e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key, rules) percorre a cadeia de portões de janela fixa e
// retorna uma Decision (allow/deny + regra + retry-after).
package application
