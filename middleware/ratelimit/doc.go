// Package ratelimit fornece adapters HTTP (net/http) para rate limit de janela
// fixa e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: cadeia de portões (Decide) e acquire/timeout, sem net/http
//   - infra: implementações concretas (janelas fixas, semáforo, stats)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo:
//
//  1. Paths isentos (ex: /health) passam direto, sem contar em nenhuma regra
//  2. Extrai a chave do cliente (header/XFF/IP)
//  3. Seleciona as regras do path (globais primeiro, depois as da rota)
//  4. Se alguma bloquear, responde 429 JSON com Retry-After
//  5. Se todas passarem, chama o próximo handler
package ratelimit
