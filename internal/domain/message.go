package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType is the "type" discriminator carried by every frame
type MessageType string

// Inbound types
const (
	MessageTypeIdentify          MessageType = "identify"
	MessageTypeUserCoordinate    MessageType = "usercoordinate"
	MessageTypeUpdateMetadata    MessageType = "updatemetadata"
	MessageTypeUpdateListeningTo MessageType = "updatelisteningto"
	MessageTypeClearList         MessageType = "clearlist"
	MessageTypeData              MessageType = "data" // also outbound
	MessageTypeUpdate            MessageType = "update"
	MessageTypePong              MessageType = "pong"
)

// Outbound types
const (
	MessageTypeWelcome          MessageType = "welcome"
	MessageTypeUserUpdate       MessageType = "userupdate"
	MessageTypeCoordinateUpdate MessageType = "usercoordinateupdate"
	MessageTypePing             MessageType = "ping"
	MessageTypeServerLog        MessageType = "serverlog"
	MessageTypeSaveTime         MessageType = "saveTime"
)

var (
	// ErrMalformedFrame is returned for frames that are not valid JSON objects or
	// whose fields have the wrong shape.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType is returned for frames with an unrecognized type tag.
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is a decoded client frame. The concrete types below form a closed set.
type Inbound interface {
	MessageType() MessageType
}

// IdentifyMessage declares what kind of client is connected
type IdentifyMessage struct {
	Client string `json:"client"`
}

// UserCoordinateMessage moves the sender
type UserCoordinateMessage struct {
	Coordinates PositionPatch
}

// UpdateMetadataMessage changes the sender's descriptive fields
type UpdateMetadataMessage struct {
	Patch MetadataPatch
}

// UpdateListeningToMessage replaces the sender's subscription set
type UpdateListeningToMessage struct {
	NewListeningTo []string
}

// ClearListMessage empties the sender's subscription set
type ClearListMessage struct{}

// DataMessage is an arbitrary payload routed to the sender's listeners
type DataMessage struct {
	Data json.RawMessage
}

// UpdateMessage is the combined coordinate + metadata + subscription variant
type UpdateMessage struct {
	Metadata    MetadataPatch
	Position    PositionPatch
	ListeningTo []string // nil when absent
}

// PongMessage answers a ping
type PongMessage struct{}

func (IdentifyMessage) MessageType() MessageType          { return MessageTypeIdentify }
func (UserCoordinateMessage) MessageType() MessageType    { return MessageTypeUserCoordinate }
func (UpdateMetadataMessage) MessageType() MessageType    { return MessageTypeUpdateMetadata }
func (UpdateListeningToMessage) MessageType() MessageType { return MessageTypeUpdateListeningTo }
func (ClearListMessage) MessageType() MessageType         { return MessageTypeClearList }
func (DataMessage) MessageType() MessageType              { return MessageTypeData }
func (UpdateMessage) MessageType() MessageType            { return MessageTypeUpdate }
func (PongMessage) MessageType() MessageType              { return MessageTypePong }

// DecodeInbound parses one frame into its typed variant.
// Errors wrap ErrMalformedFrame or ErrUnknownType.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	switch *env.Type {
	case MessageTypeIdentify:
		var m IdentifyMessage
		if err := decodeFields(raw, &m); err != nil {
			return nil, err
		}
		if m.Client == "" {
			return nil, fmt.Errorf("%w: identify without client", ErrMalformedFrame)
		}
		return m, nil

	case MessageTypeUserCoordinate:
		var m struct {
			Coordinates *PositionPatch `json:"coordinates"`
		}
		if err := decodeFields(raw, &m); err != nil {
			return nil, err
		}
		if m.Coordinates == nil || m.Coordinates.Empty() {
			return nil, fmt.Errorf("%w: usercoordinate without coordinates", ErrMalformedFrame)
		}
		return UserCoordinateMessage{Coordinates: *m.Coordinates}, nil

	case MessageTypeUpdateMetadata:
		// Older clients nest the fields under "data".
		var m struct {
			MetadataPatch
			Data *MetadataPatch `json:"data"`
		}
		if err := decodeFields(raw, &m); err != nil {
			return nil, err
		}
		patch := m.MetadataPatch
		if m.Data != nil {
			patch = mergePatch(patch, *m.Data)
		}
		if patch.Empty() {
			return nil, fmt.Errorf("%w: updatemetadata without recognized fields", ErrMalformedFrame)
		}
		return UpdateMetadataMessage{Patch: patch}, nil

	case MessageTypeUpdateListeningTo:
		var m struct {
			NewListeningTo *[]string `json:"newListeningTo"`
		}
		if err := decodeFields(raw, &m); err != nil {
			return nil, err
		}
		if m.NewListeningTo == nil {
			return nil, fmt.Errorf("%w: updatelisteningto without newListeningTo", ErrMalformedFrame)
		}
		list := *m.NewListeningTo
		if list == nil {
			list = []string{}
		}
		return UpdateListeningToMessage{NewListeningTo: list}, nil

	case MessageTypeClearList:
		return ClearListMessage{}, nil

	case MessageTypeData:
		var m struct {
			Data json.RawMessage `json:"data"`
		}
		if err := decodeFields(raw, &m); err != nil {
			return nil, err
		}
		if len(m.Data) == 0 || bytes.Equal(bytes.TrimSpace(m.Data), []byte("null")) {
			return nil, fmt.Errorf("%w: data without payload", ErrMalformedFrame)
		}
		return DataMessage{Data: m.Data}, nil

	case MessageTypeUpdate:
		var m struct {
			DisplayName *string   `json:"displayName"`
			TX          *float64  `json:"tx"`
			TY          *float64  `json:"ty"`
			TZ          *float64  `json:"tz"`
			ListeningTo *[]string `json:"listeningTo"`
			AFK         *bool     `json:"afk"`
		}
		if err := decodeFields(raw, &m); err != nil {
			return nil, err
		}
		msg := UpdateMessage{
			Metadata: MetadataPatch{DisplayName: m.DisplayName, AFK: m.AFK},
			Position: PositionPatch{TX: m.TX, TY: m.TY, TZ: m.TZ},
		}
		if m.ListeningTo != nil {
			msg.ListeningTo = *m.ListeningTo
			if msg.ListeningTo == nil {
				msg.ListeningTo = []string{}
			}
		}
		if msg.Metadata.Empty() && msg.Position.Empty() && msg.ListeningTo == nil {
			return nil, fmt.Errorf("%w: update without fields", ErrMalformedFrame)
		}
		return msg, nil

	case MessageTypePong:
		return PongMessage{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(*env.Type))
}

func decodeFields(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// mergePatch fills nil fields of top with the values from nested
func mergePatch(top, nested MetadataPatch) MetadataPatch {
	if top.DisplayName == nil {
		top.DisplayName = nested.DisplayName
	}
	if top.Description == nil {
		top.Description = nested.Description
	}
	if top.AFK == nil {
		top.AFK = nested.AFK
	}
	if top.TextStream == nil {
		top.TextStream = nested.TextStream
	}
	return top
}

// ==== Outbound ====

// WelcomeMessage tells a new connection its id
type WelcomeMessage struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

// UserUpdateMessage is the full presence snapshot
type UserUpdateMessage struct {
	Type         MessageType      `json:"type"`
	NumUsers     int              `json:"numUsers"`
	Users        []PresenceRecord `json:"users"`
	LastSaveTime *time.Time       `json:"lastSaveTime,omitempty"`
}

// CoordinateUpdateMessage is the sender-excluded position delta
type CoordinateUpdateMessage struct {
	Type        MessageType `json:"type"`
	From        string      `json:"from"`
	Coordinates Position    `json:"coordinates"`
}

// DataDelivery is a directed payload forwarded to a listener
type DataDelivery struct {
	Type MessageType     `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// PingMessage is the heartbeat frame
type PingMessage struct {
	Type     MessageType `json:"type"`
	Time     time.Time   `json:"time"`
	NumUsers int         `json:"numUsers"`
}

// ServerLogMessage relays a log entry to dashboards
type ServerLogMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	LogType string      `json:"logType"`
}

// SaveTimeMessage announces a completed snapshot save
type SaveTimeMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewWelcome(id string) WelcomeMessage {
	return WelcomeMessage{Type: MessageTypeWelcome, ID: id}
}

func NewUserUpdate(users []PresenceRecord, lastSave time.Time) UserUpdateMessage {
	msg := UserUpdateMessage{
		Type:     MessageTypeUserUpdate,
		NumUsers: len(users),
		Users:    users,
	}
	if !lastSave.IsZero() {
		msg.LastSaveTime = &lastSave
	}
	return msg
}

func NewCoordinateUpdate(from string, pos Position) CoordinateUpdateMessage {
	return CoordinateUpdateMessage{Type: MessageTypeCoordinateUpdate, From: from, Coordinates: pos}
}

func NewDataDelivery(from string, data json.RawMessage) DataDelivery {
	return DataDelivery{Type: MessageTypeData, From: from, Data: data}
}

func NewPing(now time.Time, numUsers int) PingMessage {
	return PingMessage{Type: MessageTypePing, Time: now, NumUsers: numUsers}
}

func NewServerLog(message, logType string) ServerLogMessage {
	return ServerLogMessage{Type: MessageTypeServerLog, Message: message, LogType: logType}
}

func NewSaveTime(ts time.Time) SaveTimeMessage {
	return SaveTimeMessage{Type: MessageTypeSaveTime, Timestamp: ts}
}
