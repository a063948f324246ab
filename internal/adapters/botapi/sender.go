// Package botapi — доставка алертов через Telegram Bot API.
// Диспетчер алертов доставляет best-effort и не ретраит, поэтому сендер
// сведён к одному плоскому sendMessage: троттлер, GET-запрос, нормализация
// ответа Bot API в ошибку.
package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// httpClientTimeout должен покрывать сетевые колебания и не зависать
// бесконечно на медленных соединениях.
const httpClientTimeout = 30 * time.Second

// Sender отправляет плоские текстовые сообщения от имени бота.
type Sender struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSender создаёт сендер. При testDC=true к токену добавляется суффикс
// /test согласно Bot API; rps задаёт среднюю частоту запросов.
func NewSender(token string, testDC bool, rps int) *Sender {
	if testDC {
		token += "/test"
	}
	return &Sender{
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token),
		client:  &http.Client{Timeout: httpClientTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// SendText отправляет текст в чат. Любой не-OK ответ возвращается ошибкой;
// ретраи и классификация — забота вызывающего.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	params.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return httpError(resp.StatusCode, body)
	}
	return apiError(body)
}

// httpError нормализует не-200 ответы HTTP.
func httpError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("bot api rate limit (%d): %s", status, msg)
	case status >= 400 && status < 500:
		return fmt.Errorf("bot api client error (%d): %s", status, msg)
	default:
		return fmt.Errorf("bot api server error (%d): %s", status, msg)
	}
}

// apiError разбирает JSON-конверт Bot API и превращает ok=false в ошибку.
func apiError(body []byte) error {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("bot api decode response: %w", err)
	}
	if apiResp.OK {
		return nil
	}
	msg := strings.TrimSpace(apiResp.Description)
	if msg == "" {
		msg = "(empty bot api description)"
	}
	return fmt.Errorf("bot api error %d: %s", apiResp.ErrorCode, msg)
}
