// internal/ledger/mirror.go
package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// MirrorClient reads topic messages from a mirror node REST endpoint.
type MirrorClient struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
}

func NewMirrorClient(baseURL string, httpClient *http.Client) *MirrorClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &MirrorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		pageSize:   100,
	}
}

type mirrorMessage struct {
	ConsensusTimestamp string           `json:"consensus_timestamp"`
	Message            string           `json:"message"`
	SequenceNumber     uint64           `json:"sequence_number"`
	TopicID            string           `json:"topic_id"`
	PayerAccountID     string           `json:"payer_account_id"`
	ChunkInfo          *mirrorChunkInfo `json:"chunk_info"`
}

// mirrorChunkInfo is present on messages the submitter split into chunks.
type mirrorChunkInfo struct {
	InitialTransactionID struct {
		AccountID             string `json:"account_id"`
		Nonce                 int    `json:"nonce"`
		TransactionValidStart string `json:"transaction_valid_start"`
	} `json:"initial_transaction_id"`
	Number int `json:"number"`
	Total  int `json:"total"`
}

func (c *mirrorChunkInfo) key() string {
	id := c.InitialTransactionID
	return fmt.Sprintf("%s@%s/%d", id.AccountID, id.TransactionValidStart, id.Nonce)
}

// chunkBuffer holds the parts of split messages until all of them arrive.
// Parts of one message can straddle pages.
type chunkBuffer map[string]map[int]mirrorMessage

// add returns the whole message once its last missing part is seen. The
// whole message carries the first part's sequence number and timestamp,
// which is what the submitter's receipt reports.
func (b chunkBuffer) add(raw mirrorMessage) (mirrorMessage, bool) {
	info := raw.ChunkInfo
	if info == nil || info.Total <= 1 {
		return raw, true
	}

	key := info.key()
	parts, ok := b[key]
	if !ok {
		parts = make(map[int]mirrorMessage, info.Total)
		b[key] = parts
	}
	parts[info.Number] = raw
	if len(parts) < info.Total {
		return mirrorMessage{}, false
	}
	delete(b, key)

	numbers := make([]int, 0, len(parts))
	for n := range parts {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var body []byte
	for _, n := range numbers {
		chunk, err := base64.StdEncoding.DecodeString(parts[n].Message)
		if err != nil {
			return mirrorMessage{}, false
		}
		body = append(body, chunk...)
	}
	whole := parts[numbers[0]]
	whole.Message = base64.StdEncoding.EncodeToString(body)
	whole.ChunkInfo = nil
	return whole, true
}

type mirrorPage struct {
	Messages []mirrorMessage `json:"messages"`
	Links    struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// History walks every page of the topic and keeps the envelopes that
// reference produceID. Chunked messages are reassembled first. Messages that
// are not envelopes are skipped.
func (m *MirrorClient) History(ctx context.Context, topicID, produceID string) ([]Event, error) {
	const op = "ledger.history"

	next := fmt.Sprintf("/api/v1/topics/%s/messages?order=asc&limit=%d", topicID, m.pageSize)
	var out []Event
	chunks := make(chunkBuffer)
	for next != "" {
		page, err := m.fetch(ctx, op, next)
		if err != nil {
			return nil, err
		}
		for _, part := range page.Messages {
			raw, complete := chunks.add(part)
			if !complete {
				continue
			}
			event, ok := decodeMirrorMessage(raw)
			if !ok {
				logrus.WithFields(logrus.Fields{
					"topic":    raw.TopicID,
					"sequence": raw.SequenceNumber,
				}).Debug("Skipping topic message that is not a ledger envelope")
				continue
			}
			if event.Message.ProduceID == produceID {
				out = append(out, event)
			}
		}
		next = ""
		if page.Links.Next != nil {
			next = *page.Links.Next
		}
	}
	if len(chunks) > 0 {
		logrus.WithFields(logrus.Fields{
			"topic":      topicID,
			"incomplete": len(chunks),
		}).Warn("Topic history ends with incomplete chunked messages")
	}
	// a reassembled message surfaces at its last part
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Receipt.SequenceNumber < out[j].Receipt.SequenceNumber
	})
	return out, nil
}

func (m *MirrorClient) fetch(ctx context.Context, op, path string) (*mirrorPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindLedgerUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindLedgerUnavailable, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errs.Newf(errs.KindLedgerUnavailable, op, "mirror node returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.Newf(errs.KindLedgerRejected, op, "topic not found on mirror node")
	case resp.StatusCode >= 400:
		return nil, errs.Newf(errs.KindLedgerRejected, op, "mirror node returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page mirrorPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errs.Wrap(errs.KindLedgerUnavailable, op, err)
	}
	return &page, nil
}

func decodeMirrorMessage(raw mirrorMessage) (Event, bool) {
	body, err := base64.StdEncoding.DecodeString(raw.Message)
	if err != nil {
		return Event{}, false
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil || !msg.Type.Valid() {
		return Event{}, false
	}
	digest, err := msg.Digest()
	if err != nil {
		return Event{}, false
	}
	ts, err := parseConsensusTimestamp(raw.ConsensusTimestamp)
	if err != nil {
		return Event{}, false
	}
	return Event{
		Message: msg,
		Receipt: Receipt{
			Digest:             digest,
			TopicID:            raw.TopicID,
			SequenceNumber:     raw.SequenceNumber,
			ConsensusTimestamp: ts,
			TransactionID:      fmt.Sprintf("%s@%s", raw.PayerAccountID, raw.ConsensusTimestamp),
		},
	}, true
}

// parseConsensusTimestamp reads the mirror node's "seconds.nanoseconds" form.
func parseConsensusTimestamp(s string) (time.Time, error) {
	secPart, nanoPart, _ := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("consensus timestamp %q: %w", s, err)
	}
	var nanos int64
	if nanoPart != "" {
		nanoPart = (nanoPart + "000000000")[:9]
		if nanos, err = strconv.ParseInt(nanoPart, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("consensus timestamp %q: %w", s, err)
		}
	}
	return time.Unix(secs, nanos).UTC(), nil
}
