package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
)

// HTTPPoller reads the catch-up API of a studyroom server.
type HTTPPoller struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	Token   string
	Client  *http.Client
}

func (p *HTTPPoller) MessagesSince(ctx context.Context, roomID string, since time.Time, limit int) ([]proto.Message, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res proto.MessagesResponse
	if err := p.get(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/messages", q, &res); err != nil {
		return nil, fmt.Errorf("MessagesSince: %w", err)
	}
	return res.Messages, nil
}

func (p *HTTPPoller) OnlineMembers(ctx context.Context, roomID string) ([]string, error) {
	var res proto.PresenceResponse
	if err := p.get(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/presence", nil, &res); err != nil {
		return nil, fmt.Errorf("OnlineMembers: %w", err)
	}
	return res.Online, nil
}

func (p *HTTPPoller) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	q := url.Values{"id": ids}
	var res proto.NamesResponse
	if err := p.get(ctx, "/api/users/names", q, &res); err != nil {
		return nil, fmt.Errorf("DisplayNames: %w", err)
	}
	return res.Names, nil
}

func (p *HTTPPoller) get(ctx context.Context, path string, q url.Values, v any) error {
	u := strings.TrimSuffix(p.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", proto.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return responseError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError turns a JsonError body into an error from the proto taxonomy.
// Bodies without a kind are classified by status.
func responseError(res *http.Response) error {
	var body router.JsonError
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Err == "" {
		body.Err = res.Status
	}
	if body.Kind != "" && proto.Code(body.Kind) != proto.CodeInternal {
		return proto.ErrorFromCode(proto.Code(body.Kind), body.Err)
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", proto.ErrAuth, body.Err)
	case res.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", proto.ErrValidation, body.Err)
	case res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", proto.ErrRateLimited, body.Err)
	default:
		return fmt.Errorf("%w: %s", proto.ErrStoreUnavailable, body.Err)
	}
}
