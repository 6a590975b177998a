package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name     string
	messages []Message
	err      error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestMessage_Body(t *testing.T) {
	msg := Message{Code: "123456", TTL: 10 * time.Minute}
	assert.Contains(t, msg.Body(), "123456")
	assert.Contains(t, msg.Body(), "10 minutes")

	short := Message{Code: "000111", TTL: 10 * time.Second}
	assert.Contains(t, short.Body(), "1 minutes")
}

func TestRouter_Send(t *testing.T) {
	sms := &recordingSender{name: "sms"}
	email := &recordingSender{name: "email"}
	router := NewRouter(map[Channel]Sender{ChannelSMS: sms, ChannelEmail: email})

	require.NoError(t, router.Send(context.Background(), Message{Identifier: "+94771234567", Channel: ChannelSMS, Code: "1"}))
	require.NoError(t, router.Send(context.Background(), Message{Identifier: "a@example.com", Channel: ChannelEmail, Code: "2"}))

	require.Len(t, sms.messages, 1)
	require.Len(t, email.messages, 1)
	assert.Equal(t, "+94771234567", sms.messages[0].Identifier)
	assert.Equal(t, "a@example.com", email.messages[0].Identifier)
}

func TestRouter_UnsupportedChannel(t *testing.T) {
	router := NewRouter(map[Channel]Sender{ChannelSMS: &recordingSender{}})

	err := router.Send(context.Background(), Message{Channel: ChannelEmail})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestRouter_PropagatesSenderError(t *testing.T) {
	failing := &recordingSender{err: errors.New("gateway down")}
	router := NewRouter(map[Channel]Sender{ChannelSMS: failing})

	err := router.Send(context.Background(), Message{Channel: ChannelSMS})
	assert.EqualError(t, err, "gateway down")
}

func TestSMSSender_Send(t *testing.T) {
	var query map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		query = r.URL.Query()
		w.Write([]byte("1"))
	}))
	defer server.Close()

	logger, hook := test.NewNullLogger()
	sender := NewSMSSender(server.URL, "api-key", "TravelCore", server.Client(), logger)

	err := sender.Send(context.Background(), Message{Identifier: "+94771234567", Channel: ChannelSMS, Code: "482913", TTL: 10 * time.Minute})

	require.NoError(t, err)
	assert.Equal(t, "api-key", query["key"][0])
	assert.Equal(t, "94771234567", query["to"][0])
	assert.Equal(t, "TravelCore", query["sender_id"][0])
	assert.Contains(t, query["message"][0], "482913")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "********4567", hook.LastEntry().Data["recipient"])
	assert.NotContains(t, hook.LastEntry().Message, "482913")
}

func TestSMSSender_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		contains string
	}{
		{"gateway error code", http.StatusOK, "2003", "error code: 2003"},
		{"non-200 status", http.StatusBadGateway, "upstream", "status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			logger, _ := test.NewNullLogger()
			sender := NewSMSSender(server.URL, "key", "id", server.Client(), logger)

			err := sender.Send(context.Background(), Message{Identifier: "+94771234567", Code: "1"})
			assert.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestSMSSender_RespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	sender := NewSMSSender(server.URL, "key", "id", server.Client(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sender.Send(ctx, Message{Identifier: "+94771234567", Code: "1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmailSender_Send(t *testing.T) {
	var received emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer email-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	sender := NewEmailSender(server.URL, "email-key", "no-reply@travelcore.example", server.Client(), logger)

	err := sender.Send(context.Background(), Message{Identifier: "guest@example.com", Channel: ChannelEmail, Code: "551177", TTL: 10 * time.Minute})

	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", received.To)
	assert.Equal(t, "no-reply@travelcore.example", received.From)
	assert.Contains(t, received.Text, "551177")
}

func TestEmailSender_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	sender := NewEmailSender(server.URL, "bad", "from@example.com", server.Client(), logger)

	err := sender.Send(context.Background(), Message{Identifier: "guest@example.com", Code: "1"})
	assert.ErrorContains(t, err, "status 401")
	assert.ErrorContains(t, err, "invalid api key")
}

func TestLogSender_Send(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sender := NewLogSender(logger)

	require.NoError(t, sender.Send(context.Background(), Message{Identifier: "guest@example.com", Channel: ChannelEmail, Code: "123456"}))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "123456", hook.LastEntry().Data["code"])
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "g***@example.com", maskIdentifier("guest@example.com"))
	assert.Equal(t, "********4567", maskIdentifier("+94771234567"))
	assert.Equal(t, "****", maskIdentifier("123"))
}
