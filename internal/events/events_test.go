package events

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

var _ Publisher = (*NATSPublisher)(nil)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicFilterCreated, FilterCreated{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDecode(t *testing.T) {
	env := Envelope{Topic: TopicIssueUpserted, Data: []byte(`{"issue_id":42,"key":"ABC-7"}`)}
	got, err := Decode[IssueChanged](env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.IssueID != 42 || got.Key != "ABC-7" {
		t.Errorf("got %+v", got)
	}

	if _, err := Decode[IssueChanged](Envelope{Topic: TopicIssueDeleted, Data: []byte("{")}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

// Consumers outside this module read the raw subject payloads.
func TestNATSPublisher_WireFormat(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer nc.Close()
	msgs := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("issuesearch.>", msgs)
	if err != nil {
		t.Fatalf("ChanSubscribe: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	tests := []struct {
		topic string
		event any
		want  string
	}{
		{TopicIssueDeleted, IssueChanged{IssueID: 3}, `{"issue_id":3}`},
		{TopicFilterDeleted, FilterDeleted{FilterID: 2, OwnerKey: "bob"}, `{"filter_id":2,"owner_key":"bob"}`},
		{
			TopicFilterUnfavourited,
			FilterFavourite{FilterID: 1, UserKey: "carol"},
			`{"filter_id":1,"user_key":"carol","favourite_count":0}`,
		},
	}
	for _, tt := range tests {
		if err := pub.Publish(context.Background(), tt.topic, tt.event); err != nil {
			t.Fatalf("Publish(%s): %v", tt.topic, err)
		}
	}
	if err := pub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for _, tt := range tests {
		select {
		case msg := <-msgs:
			if msg.Subject != tt.topic {
				t.Errorf("subject = %s, want %s", msg.Subject, tt.topic)
			}
			if string(msg.Data) != tt.want {
				t.Errorf("%s payload = %s, want %s", tt.topic, msg.Data, tt.want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", tt.topic)
		}
	}
}

func TestNATSPublisher_Errors(t *testing.T) {
	url := startTestNATS(t)

	t.Run("cancelled context", func(t *testing.T) {
		pub, err := NewNATSPublisher(url)
		if err != nil {
			t.Fatalf("NewNATSPublisher: %v", err)
		}
		defer pub.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := pub.Publish(ctx, TopicFilterCreated, FilterCreated{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("unencodable event", func(t *testing.T) {
		pub, err := NewNATSPublisher(url)
		if err != nil {
			t.Fatalf("NewNATSPublisher: %v", err)
		}
		defer pub.Close()
		if err := pub.Publish(context.Background(), TopicIssueUpserted, func() {}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("closed connection", func(t *testing.T) {
		pub, err := NewNATSPublisher(url)
		if err != nil {
			t.Fatalf("NewNATSPublisher: %v", err)
		}
		if err := pub.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		ev := FilterCreated{Filter: model.SearchRequestRecord{ID: 1}}
		if err := pub.Publish(context.Background(), TopicFilterCreated, ev); err == nil {
			t.Error("expected error")
		}
	})
}
