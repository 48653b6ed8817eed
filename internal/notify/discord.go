package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"tv-executor/internal/domain"
)

const (
	colorSuccess = 0x2ecc71
	colorPending = 0xf1c40f
	colorFailure = 0xe74c3c
)

// Discord posts an embed to a webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a Discord webhook sink.
func NewDiscord(webhookURL string, client *http.Client) *Discord {
	if client == nil {
		client = http.DefaultClient
	}
	return &Discord{webhookURL: webhookURL, client: client}
}

func (d *Discord) Name() string { return "discord" }

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Color       int               `json:"color"`
	Fields      []embedField      `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{"embeds": []embed{discordEmbed(msg)}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}

func discordEmbed(msg Message) embed {
	e := embed{
		Footer:    map[string]string{"text": "tv-executor"},
		Timestamp: msg.Time.Format(time.RFC3339),
	}
	if msg.Kind == KindFailure {
		e.Title = "Order Failed"
		e.Description = msg.Err.Error()
		e.Color = colorFailure
		return e
	}

	r := msg.Result
	e.Title = fmt.Sprintf("%s %s %s", strings.ToUpper(string(r.Action)), r.Symbol, strings.ToUpper(string(r.Exchange)))
	e.Color = colorSuccess
	if r.Status != domain.StatusFilled {
		e.Color = colorPending
	}
	price := "Market"
	if r.Price != nil {
		price = strconv.FormatFloat(*r.Price, 'f', -1, 64)
	}
	e.Fields = []embedField{
		{Name: "Volume", Value: strconv.FormatFloat(r.Volume, 'f', -1, 64), Inline: true},
		{Name: "Type", Value: string(r.OrderType), Inline: true},
		{Name: "Price", Value: price, Inline: true},
		{Name: "Status", Value: string(r.Status), Inline: true},
		{Name: "Order ID", Value: r.OrderID},
	}
	if r.StopLoss != nil {
		e.Fields = append(e.Fields, embedField{Name: "Stop-Loss", Value: strconv.FormatFloat(r.StopLoss.StopPrice, 'f', -1, 64), Inline: true})
	}
	return e
}
