// Package youtubeapi is the YouTube Data API v3 side of the live chat feed:
// active broadcasts, live chat pages and the owner's channels. Each Session is
// bound to one access credential supplied by the oauth package.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/cadegiameos/Reaper-Gift-Wheel/chat"
)

// maxChatResults is the page size requested from liveChatMessages.list.
const maxChatResults = 200

// chatGoneReasons are API error reasons meaning the liveChatId is dead.
var chatGoneReasons = map[string]bool{
	"liveChatEnded":    true,
	"liveChatNotFound": true,
	"liveChatDisabled": true,
}

// Client opens sessions against the API.
type Client struct {
	endpoint string
	timeout  time.Duration
}

// New returns a Client. An empty endpoint uses the public API; timeout bounds each HTTP request.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{endpoint: endpoint, timeout: timeout}
}

// Session returns an API session authorized by accessToken.
func (c *Client) Session(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, errors.New("youtube session: empty access token")
	}
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	hc.Timeout = c.timeout
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Session{svc: svc}, nil
}

// Dial implements chat.Dialer.
func (c *Client) Dial(ctx context.Context, accessToken string) (chat.FeedSource, error) {
	return c.Session(ctx, accessToken)
}

// Session implements chat.FeedSource.
type Session struct {
	svc *yt.Service
}

var _ chat.FeedSource = (*Session)(nil)

// ActiveBroadcasts lists the authenticated owner's live broadcasts.
func (s *Session) ActiveBroadcasts(ctx context.Context) ([]chat.Broadcast, error) {
	resp, err := s.svc.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").
		BroadcastType("all").
		MaxResults(50).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("liveBroadcasts.list: %w", err)
	}
	out := make([]chat.Broadcast, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it == nil || it.Snippet == nil {
			continue
		}
		out = append(out, chat.Broadcast{
			ID:         it.Id,
			ChannelID:  it.Snippet.ChannelId,
			LiveChatID: it.Snippet.LiveChatId,
			Title:      it.Snippet.Title,
		})
	}
	return out, nil
}

// Messages fetches the page after pageToken ("" = live point).
func (s *Session) Messages(ctx context.Context, liveChatID, pageToken string) (chat.Page, error) {
	call := s.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).
		MaxResults(maxChatResults).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return chat.Page{}, mapError("liveChatMessages.list", err)
	}
	page := chat.Page{
		NextPageToken:         resp.NextPageToken,
		PollingIntervalMillis: resp.PollingIntervalMillis,
		Messages:              make([]chat.Message, 0, len(resp.Items)),
	}
	for _, it := range resp.Items {
		if it == nil {
			continue
		}
		m := chat.Message{ID: it.Id}
		if it.Snippet != nil {
			m.Text = it.Snippet.DisplayMessage
			if d := it.Snippet.MembershipGiftingDetails; d != nil {
				m.GiftCount = d.GiftMembershipsCount
			}
		}
		if it.AuthorDetails != nil {
			m.Author = it.AuthorDetails.DisplayName
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}

// Channel is one channel the owner manages.
type Channel struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MyChannels lists the channels of the authenticated owner.
func (s *Session) MyChannels(ctx context.Context) ([]Channel, error) {
	resp, err := s.svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list: %w", err)
	}
	out := make([]Channel, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it == nil {
			continue
		}
		ch := Channel{ID: it.Id}
		if it.Snippet != nil {
			ch.Title = it.Snippet.Title
		}
		out = append(out, ch)
	}
	return out, nil
}

// mapError marks dead-chat API errors with chat.ErrChatEnded.
func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, e := range gerr.Errors {
			if chatGoneReasons[e.Reason] {
				return fmt.Errorf("%s: %s: %w", op, e.Reason, chat.ErrChatEnded)
			}
		}
		if gerr.Code == http.StatusNotFound {
			return fmt.Errorf("%s: %w", op, chat.ErrChatEnded)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
