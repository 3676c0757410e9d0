package kafka

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

func mention(t *testing.T, id, tone string) *gdelt.RawRecord {
	t.Helper()
	s := gdelt.LatestSchema(gdelt.Mentions)
	fields := make([]string, s.Len())
	fields[s.Index("GlobalEventID")] = id
	fields[s.Index("EventTimeDate")] = "20190301000000"
	fields[s.Index("MentionTimeDate")] = "20190301001500"
	fields[s.Index("MentionIdentifier")] = "http://example.com/" + id
	fields[s.Index("MentionDocTone")] = tone
	r, err := gdelt.NewRawRecord(s, fields)
	if err != nil {
		t.Fatalf("building record: %v", err)
	}
	return r
}

func TestSinkJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	for _, id := range []string{"1", "2", "3"} {
		id := id
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			m := make(map[string]interface{})
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			if m["GlobalEventID"] != id || m["_kind"] != "mentions" {
				return errors.Errorf("unexpected message %s", val)
			}
			return nil
		})
	}
	s := NewSink("gdelt")
	s.BatchSize = 2
	s.SetProducer(producer)
	for _, id := range []string{"1", "2", "3"} {
		if err := s.Write(mention(t, id, "1.5")); err != nil {
			t.Fatalf("writing %s: %v", id, err)
		}
	}
	if s.Sent() != 2 {
		t.Fatalf("sent %d before close, want 2", s.Sent())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if s.Sent() != 3 {
		t.Fatalf("sent %d, want 3", s.Sent())
	}
}

func TestSinkSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	s := NewSink("gdelt")
	s.BatchSize = 1
	s.SetProducer(producer)
	if err := s.Write(mention(t, "1", "")); err == nil {
		t.Fatal("expected send error")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
}

func TestSinkConfiguration(t *testing.T) {
	if err := NewSink("").Open(); !gdelt.IsConfiguration(err) {
		t.Fatalf("expected configuration error for missing topic, got %v", err)
	}
	if err := NewSink("gdelt").Open(); !gdelt.IsConfiguration(err) {
		t.Fatalf("expected configuration error for missing hosts, got %v", err)
	}
}

func TestAvroEncoder(t *testing.T) {
	e := NewAvroEncoder("")
	r := mention(t, "42", "")
	r.Extra = map[string]string{"note": "x"}
	data, err := e.Encode(r)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	m, err := e.Decode(gdelt.Mentions, data)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got := m["GlobalEventID"]; !unionIs(got, "42") {
		t.Fatalf("GlobalEventID = %#v", got)
	}
	if got := m["MentionDocTone"]; got != nil {
		t.Fatalf("empty optional field should be null, got %#v", got)
	}
	if got := m["_extra"].(map[string]interface{})["note"]; got != "x" {
		t.Fatalf("extra note = %#v", got)
	}
	if m["_kind"] != "mentions" {
		t.Fatalf("kind = %#v", m["_kind"])
	}
}

func unionIs(v interface{}, want string) bool {
	m, ok := v.(map[string]interface{})
	return ok && m["string"] == want
}

func TestAvroEncoderRegistry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/subjects/mentions-value/versions") {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !strings.Contains(req["schema"], "GlobalEventID") {
			http.Error(w, "bad schema", http.StatusUnprocessableEntity)
			return
		}
		w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	e := NewAvroEncoder(srv.URL)
	for i := 0; i < 2; i++ {
		data, err := e.Encode(mention(t, "1", "2.5"))
		if err != nil {
			t.Fatalf("encoding: %v", err)
		}
		if data[0] != 0 || binary.BigEndian.Uint32(data[1:5]) != 7 {
			t.Fatalf("unexpected header % x", data[:5])
		}
		if _, err := e.Decode(gdelt.Mentions, data); err != nil {
			t.Fatalf("decoding: %v", err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("registered %d times, want 1", n)
	}
}
