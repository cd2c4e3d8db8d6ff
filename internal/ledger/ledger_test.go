package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/canonhash"
	"github.com/javajoker/farmtrace-backend/internal/errs"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testMessage(t *testing.T, produceID string, record any) Message {
	t.Helper()
	msg, err := NewMessage(TypeTrackingUpdate, produceID, "farmer-1", fixedNow, record, map[string]any{"sequence": 1})
	require.NoError(t, err)
	return msg
}

func TestNewMessageHashesRecord(t *testing.T) {
	record := map[string]any{"location_name": "Naivasha", "sequence": 1}
	msg := testMessage(t, "produce-1", record)

	assert.Equal(t, canonhash.MustSum(record), msg.DataHash)
	assert.Equal(t, "2026-03-02T09:00:00Z", msg.Timestamp)
	assert.NoError(t, msg.Validate())
}

func TestValidateRejectsMalformedEnvelope(t *testing.T) {
	base := testMessage(t, "produce-1", map[string]any{"a": 1})

	cases := map[string]func(m *Message){
		"unknown type":  func(m *Message) { m.Type = "SOMETHING_ELSE" },
		"no subject":    func(m *Message) { m.ProduceID, m.FarmerID = "", "" },
		"bad hash":      func(m *Message) { m.DataHash = "abc" },
		"bad timestamp": func(m *Message) { m.Timestamp = "yesterday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := base
			mutate(&m)
			assert.True(t, errs.Is(m.Validate(), errs.KindLedgerRejected))
		})
	}
}

func TestMemoryNetworkSequencesAndFilters(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork("0.0.5005", WithClock(func() time.Time { return fixedNow }))

	r1, err := net.Submit(ctx, testMessage(t, "produce-1", map[string]any{"n": 1}))
	require.NoError(t, err)
	r2, err := net.Submit(ctx, testMessage(t, "produce-2", map[string]any{"n": 2}))
	require.NoError(t, err)
	r3, err := net.Submit(ctx, testMessage(t, "produce-1", map[string]any{"n": 3}))
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2, 3}, []uint64{r1.SequenceNumber, r2.SequenceNumber, r3.SequenceNumber})
	assert.Equal(t, "0.0.5005/3", r3.ContractID())
	assert.True(t, canonhash.IsDigest(r1.Digest))

	history, err := net.QueryHistory(ctx, "produce-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Receipt.SequenceNumber)
	assert.Equal(t, uint64(3), history[1].Receipt.SequenceNumber)

	empty, err := net.QueryHistory(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryNetworkOpensDistinctAccounts(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork("0.0.5005")

	a, err := net.OpenAccount(ctx, "farmer-1")
	require.NoError(t, err)
	b, err := net.OpenAccount(ctx, "farmer-2")
	require.NoError(t, err)

	assert.Equal(t, "0.0.100001", a)
	assert.Equal(t, "0.0.100002", b)
}

func TestRetryingClientRetriesUnavailableOnce(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork("0.0.5005")
	client := NewRetryingClient(net, errs.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})

	net.FailNext(errs.New(errs.KindLedgerUnavailable, "test", "busy"))
	receipt, err := client.Submit(ctx, testMessage(t, "produce-1", map[string]any{"n": 1}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.SequenceNumber)

	net.FailNext(
		errs.New(errs.KindLedgerUnavailable, "test", "busy"),
		errs.New(errs.KindLedgerUnavailable, "test", "still busy"),
	)
	_, err = client.Submit(ctx, testMessage(t, "produce-1", map[string]any{"n": 2}))
	assert.True(t, errs.Is(err, errs.KindLedgerUnavailable))
	assert.Len(t, net.Events(), 1)
}

func TestRetryingClientDoesNotRetryRejection(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork("0.0.5005")
	client := NewRetryingClient(net, errs.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})

	net.FailNext(errs.New(errs.KindLedgerRejected, "test", "invalid topic"))
	_, err := client.Submit(ctx, testMessage(t, "produce-1", map[string]any{"n": 1}))
	assert.True(t, errs.Is(err, errs.KindLedgerRejected))

	// the rejection consumed one queued failure only; the next call succeeds
	_, err = client.Submit(ctx, testMessage(t, "produce-1", map[string]any{"n": 1}))
	assert.NoError(t, err)
}

func TestMirrorClientFollowsPages(t *testing.T) {
	envelope := func(produceID string, n int) string {
		msg := testMessage(t, produceID, map[string]any{"n": n})
		body, err := json.Marshal(msg)
		require.NoError(t, err)
		return base64.StdEncoding.EncodeToString(body)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/topics/0.0.5005/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("sequencenumber") == "" {
			next := "/api/v1/topics/0.0.5005/messages?order=asc&limit=100&sequencenumber=gt:2"
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{
					{"consensus_timestamp": "1772442000.000000100", "message": envelope("produce-1", 1), "sequence_number": 1, "topic_id": "0.0.5005", "payer_account_id": "0.0.2"},
					{"consensus_timestamp": "1772442001.5", "message": base64.StdEncoding.EncodeToString([]byte("not json")), "sequence_number": 2, "topic_id": "0.0.5005"},
				},
				"links": map[string]any{"next": next},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"consensus_timestamp": "1772442002.000000000", "message": envelope("produce-2", 3), "sequence_number": 3, "topic_id": "0.0.5005"},
				{"consensus_timestamp": "1772442003.000000000", "message": envelope("produce-1", 4), "sequence_number": 4, "topic_id": "0.0.5005"},
			},
			"links": map[string]any{"next": nil},
		})
	}))
	defer srv.Close()

	mirror := NewMirrorClient(srv.URL, srv.Client())
	events, err := mirror.History(context.Background(), "0.0.5005", "produce-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(1), events[0].Receipt.SequenceNumber)
	assert.Equal(t, uint64(4), events[1].Receipt.SequenceNumber)
	assert.Equal(t, int64(1772442000), events[0].Receipt.ConsensusTimestamp.Unix())
	assert.Equal(t, 100, events[0].Receipt.ConsensusTimestamp.Nanosecond())
	assert.Equal(t, canonhash.MustSum(map[string]any{"n": 1}), events[0].Message.DataHash)
}

func TestMirrorClientReassemblesChunkedMessages(t *testing.T) {
	record := map[string]any{"location_name": "Naivasha cold store", "sequence": 2}
	msg, err := NewMessage(TypeTrackingUpdate, "produce-1", "farmer-1", fixedNow, record, map[string]any{
		"conditions": strings.Repeat("kept at 4C, crates sealed, no bruising observed; ", 50),
	})
	require.NoError(t, err)
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Greater(t, len(body), 2048)

	var chunks []string
	for start := 0; start < len(body); start += 1024 {
		end := min(start+1024, len(body))
		chunks = append(chunks, base64.StdEncoding.EncodeToString(body[start:end]))
	}
	total := len(chunks)
	chunk := func(n int, seq int, ts string) map[string]any {
		return map[string]any{
			"consensus_timestamp": ts,
			"message":             chunks[n-1],
			"sequence_number":     seq,
			"topic_id":            "0.0.5005",
			"payer_account_id":    "0.0.2",
			"chunk_info": map[string]any{
				"initial_transaction_id": map[string]any{
					"account_id":              "0.0.2",
					"nonce":                   0,
					"scheduled":               false,
					"transaction_valid_start": "1772441999.000000000",
				},
				"number": n,
				"total":  total,
			},
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("sequencenumber") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{chunk(1, 7, "1772442000.000000001")},
				"links":    map[string]any{"next": "/api/v1/topics/0.0.5005/messages?order=asc&limit=100&sequencenumber=gt:7"},
			})
			return
		}
		var rest []map[string]any
		for n := 2; n <= total; n++ {
			rest = append(rest, chunk(n, 6+n, fmt.Sprintf("1772442000.00000000%d", n)))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": rest, "links": map[string]any{"next": nil}})
	}))
	defer srv.Close()

	mirror := NewMirrorClient(srv.URL, srv.Client())
	events, err := mirror.History(context.Background(), "0.0.5005", "produce-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, canonhash.MustSum(record), events[0].Message.DataHash)
	assert.Equal(t, uint64(7), events[0].Receipt.SequenceNumber)
	assert.Equal(t, 1, events[0].Receipt.ConsensusTimestamp.Nanosecond())
}

func TestMirrorClientDropsIncompleteChunks(t *testing.T) {
	msg := testMessage(t, "produce-1", map[string]any{"n": 1})
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{{
				"consensus_timestamp": "1772442000.0",
				"message":             base64.StdEncoding.EncodeToString(body[:len(body)/2]),
				"sequence_number":     1,
				"topic_id":            "0.0.5005",
				"chunk_info": map[string]any{
					"initial_transaction_id": map[string]any{"account_id": "0.0.2", "transaction_valid_start": "1772441999.0"},
					"number":                 1,
					"total":                  2,
				},
			}},
			"links": map[string]any{"next": nil},
		})
	}))
	defer srv.Close()

	events, err := NewMirrorClient(srv.URL, srv.Client()).History(context.Background(), "0.0.5005", "produce-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMirrorClientClassifiesFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"_status":{"messages":[{"message":"nope"}]}}`)
	}))
	defer srv.Close()

	mirror := NewMirrorClient(srv.URL, srv.Client())

	_, err := mirror.History(context.Background(), "0.0.5005", "produce-1")
	assert.True(t, errs.Is(err, errs.KindLedgerUnavailable))

	status = http.StatusBadRequest
	_, err = mirror.History(context.Background(), "0.0.5005", "produce-1")
	assert.True(t, errs.Is(err, errs.KindLedgerRejected))
}

func TestParseConsensusTimestamp(t *testing.T) {
	ts, err := parseConsensusTimestamp("1772442001.5")
	require.NoError(t, err)
	assert.Equal(t, 500000000, ts.Nanosecond())

	_, err = parseConsensusTimestamp("abc.1")
	assert.Error(t, err)
}
