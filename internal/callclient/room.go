package callclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
)

// TranscriptionTopic はエージェントが文字起こしをデータパケットで送る際のトピック。
const TranscriptionTopic = "lk.transcription"

// roomHandle は参加済みルームのうち切断に必要な部分。*lksdk.Room が満たす。
type roomHandle interface {
	Disconnect()
}

// dialFunc はコールバックを登録してルームに参加する。
type dialFunc func(serverURL, token string, cb *lksdk.RoomCallback) (roomHandle, error)

// RoomConnector はLiveKitのGo SDKでルームに参加する。
// シグナリングの参加手順とpingはSDKが行う。
type RoomConnector struct {
	dial dialFunc
}

// NewRoomConnector はRoomConnectorを生成する。
// CLIは音声を再生しないため、トラックの自動購読は行わない。
func NewRoomConnector() *RoomConnector {
	return &RoomConnector{dial: func(serverURL, token string, cb *lksdk.RoomCallback) (roomHandle, error) {
		room, err := lksdk.ConnectToRoomWithToken(serverURL, token, cb, lksdk.WithAutoSubscribe(false))
		if err != nil {
			return nil, err
		}
		return room, nil
	}}
}

type dialResult struct {
	room roomHandle
	err  error
}

// Connect はルームに参加する。SDKの参加処理はContextを受け取らないため、
// ctxが先に終わった場合は参加完了後に切断する。
func (c *RoomConnector) Connect(ctx context.Context, serverURL, token string) (Connection, error) {
	conn := newRoomConnection()
	cb := &lksdk.RoomCallback{
		OnDisconnectedWithReason: conn.onDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataPacket:            conn.onDataPacket,
			OnTranscriptionReceived: conn.onTranscription,
		},
	}

	results := make(chan dialResult, 1)
	go func() {
		room, err := c.dial(serverURL, token, cb)
		results <- dialResult{room: room, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("failed to join room: %w", res.err)
		}
		conn.room = res.room
		return conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-results; res.err == nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// roomConnection はSDKのコールバックをConnectionに変換する。
type roomConnection struct {
	room        roomHandle
	transcripts chan TranscriptEntry
	done        chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newRoomConnection() *roomConnection {
	return &roomConnection{
		transcripts: make(chan TranscriptEntry, 64),
		done:        make(chan struct{}),
	}
}

func (r *roomConnection) Transcripts() <-chan TranscriptEntry { return r.transcripts }

func (r *roomConnection) Done() <-chan struct{} { return r.done }

func (r *roomConnection) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close はルームから退出する。
func (r *roomConnection) Close() error {
	if r.finish(nil) && r.room != nil {
		r.room.Disconnect()
	}
	return nil
}

// finish は接続を終了状態にする。最初の呼び出しのみtrueを返す。
func (r *roomConnection) finish(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	r.err = err
	close(r.transcripts)
	close(r.done)
	return true
}

// onDisconnected はサーバー側からの切断を受け取る。
// 接続失敗による切断のみエラーとして残す。
func (r *roomConnection) onDisconnected(reason lksdk.DisconnectionReason) {
	var err error
	if reason == lksdk.Failed {
		err = fmt.Errorf("room connection lost: %s", reason)
	}
	r.finish(err)
}

// onTranscription は確定した文字起こしセグメントを発話として流す。
func (r *roomConnection) onTranscription(segments []*lksdk.TranscriptionSegment, p lksdk.Participant, _ lksdk.TrackPublication) {
	var speaker string
	if p != nil {
		speaker = p.Identity()
	}
	r.addSegments(speaker, segments)
}

func (r *roomConnection) addSegments(speaker string, segments []*lksdk.TranscriptionSegment) {
	for _, seg := range segments {
		if seg == nil || !seg.Final {
			continue
		}
		r.emit(speaker, seg.Text)
	}
}

// onDataPacket は文字起こしトピックのユーザーデータを発話として流す。
func (r *roomConnection) onDataPacket(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
	pkt, ok := data.(*lksdk.UserDataPacket)
	if !ok || pkt.Topic != TranscriptionTopic {
		return
	}
	r.emit(params.SenderIdentity, string(pkt.Payload))
}

func (r *roomConnection) emit(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.transcripts <- TranscriptEntry{Speaker: speaker, Text: text}:
	default:
	}
}
