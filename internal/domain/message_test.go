package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "identify",
			raw:  `{"type":"identify","client":"dashboard"}`,
			want: IdentifyMessage{Client: "dashboard"},
		},
		{
			name: "usercoordinate all axes",
			raw:  `{"type":"usercoordinate","coordinates":{"tx":1,"ty":2.5,"tz":-3}}`,
			want: UserCoordinateMessage{Coordinates: PositionPatch{TX: ptr(1.0), TY: ptr(2.5), TZ: ptr(-3.0)}},
		},
		{
			name: "usercoordinate partial axes",
			raw:  `{"type":"usercoordinate","coordinates":{"ty":4}}`,
			want: UserCoordinateMessage{Coordinates: PositionPatch{TY: ptr(4.0)}},
		},
		{
			name: "updatemetadata flat",
			raw:  `{"type":"updatemetadata","displayName":"Ada","afk":true}`,
			want: UpdateMetadataMessage{Patch: MetadataPatch{DisplayName: ptr("Ada"), AFK: ptr(true)}},
		},
		{
			name: "updatemetadata nested under data",
			raw:  `{"type":"updatemetadata","data":{"description":"hi","textStream":"..."}}`,
			want: UpdateMetadataMessage{Patch: MetadataPatch{Description: ptr("hi"), TextStream: ptr("...")}},
		},
		{
			name: "updatemetadata top level wins over nested",
			raw:  `{"type":"updatemetadata","displayName":"Top","data":{"displayName":"Nested","afk":false}}`,
			want: UpdateMetadataMessage{Patch: MetadataPatch{DisplayName: ptr("Top"), AFK: ptr(false)}},
		},
		{
			name: "updatelisteningto",
			raw:  `{"type":"updatelisteningto","newListeningTo":["a","b"]}`,
			want: UpdateListeningToMessage{NewListeningTo: []string{"a", "b"}},
		},
		{
			name: "updatelisteningto empty",
			raw:  `{"type":"updatelisteningto","newListeningTo":[]}`,
			want: UpdateListeningToMessage{NewListeningTo: []string{}},
		},
		{
			name: "clearlist",
			raw:  `{"type":"clearlist"}`,
			want: ClearListMessage{},
		},
		{
			name: "pong",
			raw:  `{"type":"pong"}`,
			want: PongMessage{},
		},
		{
			name: "data object",
			raw:  `{"type":"data","data":{"chunk":[1,2,3]}}`,
			want: DataMessage{Data: json.RawMessage(`{"chunk":[1,2,3]}`)},
		},
		{
			name: "data string",
			raw:  `{"type":"data","data":"hello"}`,
			want: DataMessage{Data: json.RawMessage(`"hello"`)},
		},
		{
			name: "data number",
			raw:  `{"type":"data","data":0}`,
			want: DataMessage{Data: json.RawMessage(`0`)},
		},
		{
			name: "data false",
			raw:  `{"type":"data","data":false}`,
			want: DataMessage{Data: json.RawMessage(`false`)},
		},
		{
			name: "update all fields",
			raw:  `{"type":"update","displayName":"Bo","tx":1,"ty":2,"tz":3,"listeningTo":["x"],"afk":true}`,
			want: UpdateMessage{
				Metadata:    MetadataPatch{DisplayName: ptr("Bo"), AFK: ptr(true)},
				Position:    PositionPatch{TX: ptr(1.0), TY: ptr(2.0), TZ: ptr(3.0)},
				ListeningTo: []string{"x"},
			},
		},
		{
			name: "update empty listeningTo clears",
			raw:  `{"type":"update","listeningTo":[]}`,
			want: UpdateMessage{ListeningTo: []string{}},
		},
		{
			name: "update null listeningTo is absent",
			raw:  `{"type":"update","tx":5,"listeningTo":null}`,
			want: UpdateMessage{Position: PositionPatch{TX: ptr(5.0)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.MessageType(), got.MessageType())
		})
	}
}

func TestDecodeInbound_ListeningToNilVersusEmpty(t *testing.T) {
	absent, err := DecodeInbound([]byte(`{"type":"update","afk":false}`))
	require.NoError(t, err)
	assert.Nil(t, absent.(UpdateMessage).ListeningTo)

	empty, err := DecodeInbound([]byte(`{"type":"update","listeningTo":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, empty.(UpdateMessage).ListeningTo)
	assert.Empty(t, empty.(UpdateMessage).ListeningTo)
}

func TestDecodeInbound_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `hello`, ErrMalformedFrame},
		{"truncated", `{"type":"data"`, ErrMalformedFrame},
		{"array", `[1,2]`, ErrMalformedFrame},
		{"missing type", `{"data":1}`, ErrMalformedFrame},
		{"null type", `{"type":null}`, ErrMalformedFrame},
		{"numeric type", `{"type":7}`, ErrMalformedFrame},
		{"unknown type", `{"type":"teleport"}`, ErrUnknownType},
		{"outbound type sent inbound", `{"type":"welcome","id":"x"}`, ErrUnknownType},
		{"type is case sensitive", `{"type":"Data","data":1}`, ErrUnknownType},
		{"identify without client", `{"type":"identify"}`, ErrMalformedFrame},
		{"usercoordinate without coordinates", `{"type":"usercoordinate"}`, ErrMalformedFrame},
		{"usercoordinate empty coordinates", `{"type":"usercoordinate","coordinates":{}}`, ErrMalformedFrame},
		{"usercoordinate string axis", `{"type":"usercoordinate","coordinates":{"tx":"1"}}`, ErrMalformedFrame},
		{"updatemetadata without fields", `{"type":"updatemetadata","color":"red"}`, ErrMalformedFrame},
		{"updatemetadata wrong field type", `{"type":"updatemetadata","afk":"yes"}`, ErrMalformedFrame},
		{"updatelisteningto missing list", `{"type":"updatelisteningto"}`, ErrMalformedFrame},
		{"updatelisteningto null list", `{"type":"updatelisteningto","newListeningTo":null}`, ErrMalformedFrame},
		{"updatelisteningto non string ids", `{"type":"updatelisteningto","newListeningTo":[1]}`, ErrMalformedFrame},
		{"data missing", `{"type":"data"}`, ErrMalformedFrame},
		{"data null", `{"type":"data","data":null}`, ErrMalformedFrame},
		{"update without fields", `{"type":"update"}`, ErrMalformedFrame},
		{"update only null listeningTo", `{"type":"update","listeningTo":null}`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)

			other := ErrUnknownType
			if tt.wantErr == ErrUnknownType {
				other = ErrMalformedFrame
			}
			assert.False(t, errors.Is(err, other), "error must carry exactly one sentinel: %v", err)
		})
	}
}

func TestNewUserUpdate_LastSaveTime(t *testing.T) {
	users := []PresenceRecord{NewPresenceRecord("a", "User_a")}

	data, err := json.Marshal(NewUserUpdate(users, time.Time{}))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "lastSaveTime")
	assert.Contains(t, string(data), `"numUsers":1`)

	saved := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	data, err = json.Marshal(NewUserUpdate(users, saved))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lastSaveTime":"2026-03-14T15:09:26Z"`)
}

func TestPosition_Finite(t *testing.T) {
	assert.True(t, Position{TX: 1, TY: -2, TZ: 0}.Finite())
	assert.False(t, Position{TX: math.NaN()}.Finite())
	assert.False(t, Position{TZ: math.Inf(-1)}.Finite())
}
