// internal/ledger/hedera.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/canonhash"
	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type HederaConfig struct {
	Network     string
	OperatorID  string
	OperatorKey string
	TopicID     string
}

// HederaNetwork anchors envelopes as consensus-service topic messages.
// History is read back through the public mirror node.
type HederaNetwork struct {
	client      *hedera.Client
	operatorKey hedera.PrivateKey
	topicID     hedera.TopicID
	mirror      *MirrorClient
}

func NewHederaNetwork(cfg HederaConfig, mirror *MirrorClient) (*HederaNetwork, error) {
	operatorID, err := hedera.AccountIDFromString(cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("parse operator id: %w", err)
	}
	operatorKey, err := hedera.PrivateKeyFromString(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	topicID, err := hedera.TopicIDFromString(cfg.TopicID)
	if err != nil {
		return nil, fmt.Errorf("parse topic id: %w", err)
	}

	client, err := hedera.ClientForName(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Network, err)
	}
	client.SetOperator(operatorID, operatorKey)

	logrus.WithFields(logrus.Fields{
		"network":  cfg.Network,
		"operator": cfg.OperatorID,
		"topic":    cfg.TopicID,
	}).Info("Hedera ledger client initialized")

	return &HederaNetwork{
		client:      client,
		operatorKey: operatorKey,
		topicID:     topicID,
		mirror:      mirror,
	}, nil
}

func (h *HederaNetwork) Close() error {
	return h.client.Close()
}

func (h *HederaNetwork) Submit(ctx context.Context, msg Message) (Receipt, error) {
	const op = "ledger.submit"
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}
	digest, err := msg.Digest()
	if err != nil {
		return Receipt{}, errs.Wrap(errs.KindLedgerRejected, op, err)
	}
	body, err := canonhash.Canonical(msg)
	if err != nil {
		return Receipt{}, errs.Wrap(errs.KindLedgerRejected, op, err)
	}

	return runBlocking(ctx, op, func() (Receipt, error) {
		resp, err := hedera.NewTopicMessageSubmitTransaction().
			SetTopicID(h.topicID).
			SetMessage(body).
			Execute(h.client)
		if err != nil {
			return Receipt{}, classifyHederaError(op, err)
		}
		receipt, err := resp.GetReceipt(h.client)
		if err != nil {
			return Receipt{}, classifyHederaError(op, err)
		}
		record, err := resp.GetRecord(h.client)
		if err != nil {
			return Receipt{}, classifyHederaError(op, err)
		}
		return Receipt{
			Digest:             digest,
			TopicID:            h.topicID.String(),
			SequenceNumber:     receipt.TopicSequenceNumber,
			ConsensusTimestamp: record.ConsensusTimestamp.UTC(),
			TransactionID:      resp.TransactionID.String(),
		}, nil
	})
}

func (h *HederaNetwork) QueryHistory(ctx context.Context, produceID string) ([]Event, error) {
	return h.mirror.History(ctx, h.topicID.String(), produceID)
}

func (h *HederaNetwork) OpenAccount(ctx context.Context, farmerID string) (string, error) {
	const op = "ledger.open_account"
	if farmerID == "" {
		return "", errs.New(errs.KindLedgerRejected, op, "farmer id is empty")
	}

	return runBlocking(ctx, op, func() (string, error) {
		resp, err := hedera.NewAccountCreateTransaction().
			SetKey(h.operatorKey.PublicKey()).
			SetInitialBalance(hedera.NewHbar(0)).
			SetAccountMemo("farmer:" + farmerID).
			Execute(h.client)
		if err != nil {
			return "", classifyHederaError(op, err)
		}
		receipt, err := resp.GetReceipt(h.client)
		if err != nil {
			return "", classifyHederaError(op, err)
		}
		if receipt.AccountID == nil {
			return "", errs.New(errs.KindLedgerRejected, op, "receipt carries no account id")
		}
		return receipt.AccountID.String(), nil
	})
}

// runBlocking bounds an SDK call, which takes no context, by ctx.
func runBlocking[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, errs.Wrap(errs.KindLedgerUnavailable, op, ctx.Err())
	}
}

func classifyHederaError(op string, err error) error {
	var precheck hedera.ErrHederaPreCheckStatus
	if errors.As(err, &precheck) {
		switch precheck.Status {
		case hedera.StatusBusy, hedera.StatusPlatformTransactionNotCreated, hedera.StatusPlatformNotActive:
			return errs.Wrap(errs.KindLedgerUnavailable, op, err)
		}
		return errs.Wrap(errs.KindLedgerRejected, op, err)
	}
	var receipt hedera.ErrHederaReceiptStatus
	if errors.As(err, &receipt) {
		return errs.Wrap(errs.KindLedgerRejected, op, err)
	}
	return errs.Wrap(errs.KindLedgerUnavailable, op, err)
}
