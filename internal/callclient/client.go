// Package callclient は音声通話の開始から終了までをたどるクライアント側の状態機械を提供する。
// トークンの取得はRemiのAPI、接続の確立はConnectorに委ねる。
package callclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/remi/internal/model"
)

// State は通話の状態を表す。
type State string

// 通話の状態。
const (
	StateIdle            State = "idle"
	StateRequestingToken State = "requesting-token"
	StateInCall          State = "in-call"
	StateEnded           State = "ended"
	StateError           State = "error"
)

// TokenPath はアクセストークン発行APIのパス。
const TokenPath = "/api/livekit-token"

// ErrInvalidTransition は現在の状態から要求された遷移が許されない場合に返す。
var ErrInvalidTransition = errors.New("invalid call state transition")

// ErrNotInCall は通話中でない状態で文字起こしを追加しようとした場合に返す。
var ErrNotInCall = errors.New("call is not in progress")

// TranscriptEntry は通話中に受け取った発話1件。
type TranscriptEntry struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Connection はリアルタイムルームへの確立済み接続。
type Connection interface {
	// Transcripts は接続先から明示的に送られた発話を流す。
	Transcripts() <-chan TranscriptEntry
	// Done は接続が終了すると閉じられる。
	Done() <-chan struct{}
	// Err は終了理由を返す。正常終了の場合はnil。
	Err() error
	// Close は接続を切断し、終了を待つ。
	Close() error
}

// Connector はサーバーURLとアクセストークンからルームに接続する。
type Connector interface {
	Connect(ctx context.Context, serverURL, token string) (Connection, error)
}

// Config はClientの設定。
type Config struct {
	APIURL       string // RemiのAPIのベースURL
	SessionToken string // Clerkのセッショントークン
	HTTPClient   *http.Client
	Connector    Connector
	// OnStateChange は状態が変わるたびに呼ばれる。ロック外で呼ばれる。
	OnStateChange func(from, to State)
}

// StartOptions は通話開始時の入力。
type StartOptions struct {
	UserID            string
	RoomName          string // 空の場合は voice-agent-<UserID>-<unixMillis>
	ParticipantName   string
	AgentName         string
	AgentInstructions string
}

// tokenRequest はトークン発行APIのリクエストボディ。
type tokenRequest struct {
	RoomName          string `json:"roomName"`
	ParticipantName   string `json:"participantName,omitempty"`
	AgentName         string `json:"agentName,omitempty"`
	AgentInstructions string `json:"agentInstructions,omitempty"`
}

// tokenResponse はトークン発行APIのレスポンスボディ。
type tokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
}

// errorResponse はAPIの統一エラーフォーマット。
type errorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Detail   string `json:"detail"`
}

// Client は1回ずつの通話を管理する。自動再接続は行わず、
// 新しい通話は必ず新しいトークンを取得して開始する。
type Client struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	state      State
	roomName   string
	conn       Connection
	lastErr    error
	transcript []TranscriptEntry
}

// New はClientを生成する。
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg:   cfg,
		now:   time.Now,
		state: StateIdle,
	}
}

// State は現在の状態を返す。
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err は直近の失敗理由を返す。
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RoomName は現在または直前の通話のルーム名を返す。
func (c *Client) RoomName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomName
}

// Transcript はこれまでの発話のコピーを返す。
func (c *Client) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Start はトークンを取得してルームに接続する。
// idle、ended、errorの状態からのみ呼び出せる。
func (c *Client) Start(ctx context.Context, opts StartOptions) error {
	roomName := opts.RoomName
	if roomName == "" {
		roomName = fmt.Sprintf("voice-agent-%s-%d", opts.UserID, c.now().UnixMilli())
	}

	c.mu.Lock()
	switch c.state {
	case StateIdle, StateEnded, StateError:
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.state)
	}
	from := c.state
	c.state = StateRequestingToken
	c.roomName = roomName
	c.lastErr = nil
	c.transcript = nil
	c.mu.Unlock()
	c.notify(from, StateRequestingToken)

	resp, err := c.requestToken(ctx, tokenRequest{
		RoomName:          roomName,
		ParticipantName:   opts.ParticipantName,
		AgentName:         opts.AgentName,
		AgentInstructions: opts.AgentInstructions,
	})
	if err != nil {
		c.fail(err)
		return err
	}

	conn, err := c.cfg.Connector.Connect(ctx, resp.URL, resp.Token)
	if err != nil {
		err = fmt.Errorf("failed to connect to room: %w", err)
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.state = StateInCall
	c.conn = conn
	c.mu.Unlock()
	c.notify(StateRequestingToken, StateInCall)

	slog.Info("call started", slog.String("room_name", roomName))
	go c.watch(conn)
	return nil
}

// Hangup は通話を切断する。in-callの状態からのみ呼び出せる。
func (c *Client) Hangup() error {
	c.mu.Lock()
	if c.state != StateInCall {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: hangup from %s", ErrInvalidTransition, state)
	}
	conn := c.conn
	c.conn = nil
	c.state = StateEnded
	c.mu.Unlock()
	c.notify(StateInCall, StateEnded)

	slog.Info("call ended by user", slog.String("room_name", c.RoomName()))
	return conn.Close()
}

// AddTranscript は明示的に受け取った発話を記録する。通話中のみ受け付ける。
func (c *Client) AddTranscript(speaker, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInCall {
		return ErrNotInCall
	}
	c.transcript = append(c.transcript, TranscriptEntry{Speaker: speaker, Text: text, At: c.now()})
	return nil
}

// watch は接続からの発話と切断を監視する。
// 接続側からの切断はin-callからendedへの遷移として扱う。
func (c *Client) watch(conn Connection) {
	transcripts := conn.Transcripts()
	for {
		select {
		case entry, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			c.appendFrom(conn, entry)
		case <-conn.Done():
			c.drain(conn, transcripts)
			c.disconnected(conn)
			return
		}
	}
}

// drain は切断時点でバッファに残っている発話を取り込む。
func (c *Client) drain(conn Connection, transcripts <-chan TranscriptEntry) {
	for {
		select {
		case entry, ok := <-transcripts:
			if !ok {
				return
			}
			c.appendFrom(conn, entry)
		default:
			return
		}
	}
}

func (c *Client) appendFrom(conn Connection, entry TranscriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	if entry.At.IsZero() {
		entry.At = c.now()
	}
	c.transcript = append(c.transcript, entry)
}

func (c *Client) disconnected(conn Connection) {
	c.mu.Lock()
	if c.conn != conn || c.state != StateInCall {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateEnded
	c.lastErr = conn.Err()
	c.mu.Unlock()
	c.notify(StateInCall, StateEnded)

	if err := conn.Err(); err != nil {
		slog.Warn("call disconnected by provider", slog.String("error", err.Error()))
		return
	}
	slog.Info("call disconnected by provider")
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.mu.Unlock()
	c.notify(StateRequestingToken, StateError)

	slog.Error("call failed", slog.String("error", err.Error()))
}

func (c *Client) notify(from, to State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}

// requestToken はRemiのAPIからアクセストークンを取得する。
func (c *Client) requestToken(ctx context.Context, req tokenRequest) (*tokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+TokenPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.SessionToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SessionToken)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed (status %d): %w", resp.StatusCode, decodeAPIError(resp.StatusCode, data))
	}

	var out tokenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.Token == "" || out.URL == "" {
		return nil, errors.New("token response is missing token or url")
	}
	return &out, nil
}

// decodeAPIError はエラーレスポンスをmodel.APIErrorに変換する。
// 統一フォーマットでない場合はステータスコードから組み立てる。
func decodeAPIError(statusCode int, data []byte) *model.APIError {
	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &model.APIError{
			Code:     "HTTP_" + strconv.Itoa(statusCode),
			Message:  http.StatusText(statusCode),
			Category: "system",
		}
	}
	message := body.Message
	if message == "" {
		message = body.Error
	}
	return &model.APIError{
		Code:     body.Code,
		Message:  message,
		Category: body.Category,
		Action:   body.Action,
		Detail:   body.Detail,
	}
}
