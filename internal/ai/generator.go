// Package ai drafts client-facing collection messages and portfolio insight
// summaries through an OpenAI-compatible chat endpoint. The generator is
// optional: without an API key, or when the upstream call fails, it degrades
// to fixed Spanish templates so callers always get usable text.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pintrolley.app/internal/audit"
	"pintrolley.app/internal/format"
	"pintrolley.app/internal/ledger"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Generator produces Spanish collection reminders and portfolio analyses.
// The zero value is usable and always answers from templates.
type Generator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGenerator builds a generator. Empty model and baseURL fall back to the
// OpenAI defaults; an empty apiKey disables remote calls entirely.
func NewGenerator(apiKey, model, baseURL string) *Generator {
	if model == "" {
		model = defaultModel
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Generator{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Enabled reports whether remote generation is configured.
func (g *Generator) Enabled() bool { return g != nil && g.apiKey != "" }

// CollectionMessage drafts a payment reminder addressed to a client with an
// outstanding balance. Never fails; the template fallback carries the same
// facts.
func (g *Generator) CollectionMessage(ctx context.Context, clientName string, owed int64, dueLabel string) string {
	fallback := fmt.Sprintf(
		"Estimado/a %s, le recordamos que tiene un saldo pendiente de %s con vencimiento %s. "+
			"Por favor, realice su pago a la brevedad posible. ¡Gracias por su preferencia!",
		clientName, format.Currency(owed), dueLabel)

	prompt := fmt.Sprintf(
		"Redacta un mensaje de cobranza breve, cordial y firme en español para el cliente %s, "+
			"quien debe %s con fecha de vencimiento %s. Máximo 3 oraciones, sin encabezados.",
		clientName, format.Currency(owed), dueLabel)

	return g.complete(ctx, "Eres un asistente de cobranzas de una microfinanciera. Respondes solo en español.", prompt, fallback)
}

// PortfolioInsights summarizes portfolio health for the dashboard. Never
// fails; the fallback states the raw figures.
func (g *Generator) PortfolioInsights(ctx context.Context, stats ledger.PortfolioStats) string {
	fallback := fmt.Sprintf(
		"Análisis no disponible en este momento. Resumen: capital prestado %s, capital recuperado %s, "+
			"cartera en mora %.1f%%, %d préstamos activos.",
		format.Currency(stats.TotalLent), format.Currency(stats.TotalRecovered),
		stats.ArrearsRate, stats.ActiveLoans)

	prompt := fmt.Sprintf(
		"Analiza esta cartera de microcréditos y da 2 o 3 recomendaciones accionables en español: "+
			"capital prestado %s, capital recuperado %s, saldo pendiente %s, tasa de mora %.1f%%, préstamos activos %d.",
		format.Currency(stats.TotalLent), format.Currency(stats.TotalRecovered),
		format.Currency(stats.Outstanding), stats.ArrearsRate, stats.ActiveLoans)

	return g.complete(ctx, "Eres un analista financiero de una microfinanciera. Respondes solo en español.", prompt, fallback)
}

func (g *Generator) complete(ctx context.Context, system, prompt, fallback string) string {
	if !g.Enabled() {
		return fallback
	}
	text, err := g.chat(ctx, system, prompt)
	if err != nil {
		_ = audit.LogEvent(ctx, "ai.generation_failed", map[string]any{"error": err.Error()})
		return fallback
	}
	return text
}

func (g *Generator) chat(ctx context.Context, system, prompt string) (string, error) {
	payload := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.4,
	}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completion: %s", resp.Status)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
