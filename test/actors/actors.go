package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gigflow/chat"
	"gigflow/order"
	"gigflow/review"
)

// The actors drive the real services, not raw SQL, so the stress run
// exercises the same transaction and locking paths production traffic does.
// Errors that are expected under contention (invalid transitions, conflicts)
// are swallowed; anything else aborts the run.

// Services bundles what the actors need.
type Services struct {
	Chat    *chat.Service
	Orders  *order.Service
	Reviews *review.Service
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// ThreadRacer hammers GetOrCreateThread for one (job, provider) pair and
// verifies every call converges on the same thread id.
func ThreadRacer(ctx context.Context, svc Services, jobID, providerID string, stop <-chan struct{}) error {
	var firstID string
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		t, err := svc.Chat.GetOrCreateThread(ctx, jobID, providerID)
		if err != nil {
			return fmt.Errorf("thread racer: %w", err)
		}
		if firstID == "" {
			firstID = t.ID
		} else if t.ID != firstID {
			return fmt.Errorf("thread racer: id diverged: %s vs %s", firstID, t.ID)
		}
		pause(5, 15)
	}
}

// Messenger appends messages from one sender. The client addresses the
// provider explicitly; a provider's thread is inferred.
func Messenger(ctx context.Context, svc Services, jobID, senderID, recipientID string, stop <-chan struct{}) error {
	n := 0
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		n++
		_, err := svc.Chat.Append(ctx, chat.AppendParams{
			JobID:       jobID,
			SenderID:    senderID,
			RecipientID: recipientID,
			Content:     fmt.Sprintf("message %d from %s", n, senderID),
		})
		if err != nil {
			return fmt.Errorf("messenger: %w", err)
		}
		pause(10, 30)
	}
}

// Reader marks a job read and cross-checks the unread identity: after a
// markRead the per-job count for the reader must be zero.
func Reader(ctx context.Context, svc Services, jobID, readerID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if err := svc.Chat.MarkRead(ctx, jobID, readerID); err != nil {
			return fmt.Errorf("reader: mark read: %w", err)
		}
		// A concurrent append may land between the flip and the count, so
		// only a negative count or an error is a failure here; the oracle
		// checks the steady-state identity.
		if _, err := svc.Chat.UnreadForJob(ctx, jobID, readerID); err != nil {
			return fmt.Errorf("reader: unread count: %w", err)
		}
		if _, err := svc.Chat.UnreadForUser(ctx, readerID); err != nil {
			return fmt.Errorf("reader: unread for user: %w", err)
		}
		pause(20, 40)
	}
}

// OfferMaker keeps creating pending offers until the job stops accepting.
func OfferMaker(ctx context.Context, svc Services, jobID, providerID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := svc.Orders.Create(ctx, providerID, jobID, float64(10+rand.Intn(90)))
		if err != nil && !errors.Is(err, order.ErrJobClosed) {
			return fmt.Errorf("offer maker: %w", err)
		}
		pause(15, 35)
	}
}

// Acceptor plays the client racing to accept pending offers. Transition
// rejections are expected: siblings get auto-declined by a concurrent accept.
func Acceptor(ctx context.Context, svc Services, jobID, clientID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		offers, err := svc.Orders.ListForJob(ctx, jobID, clientID)
		if err != nil {
			return fmt.Errorf("acceptor: list: %w", err)
		}
		for _, o := range offers {
			if o.Status != order.StatusPending {
				continue
			}
			if _, err := svc.Orders.Accept(ctx, o.ID, clientID); err != nil &&
				!errors.Is(err, order.ErrInvalidTransition) &&
				!errors.Is(err, order.ErrJobClosed) {
				return fmt.Errorf("acceptor: accept: %w", err)
			}
			break
		}
		pause(25, 50)
	}
}

// EngagementDriver pushes live engagements forward so accepts keep freeing
// up: accepted orders get paid, in_progress ones get completed or cancelled.
// It plays both sides using the ids on the order row.
func EngagementDriver(ctx context.Context, svc Services, jobID, clientID string, stop <-chan struct{}) error {
	tolerable := func(err error) bool {
		return errors.Is(err, order.ErrInvalidTransition) || errors.Is(err, order.ErrJobClosed)
	}
	n := 0
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		offers, err := svc.Orders.ListForJob(ctx, jobID, clientID)
		if err != nil {
			return fmt.Errorf("engagement driver: list: %w", err)
		}
		for _, o := range offers {
			switch o.Status {
			case order.StatusAccepted:
				n++
				if _, err := svc.Orders.MarkPaid(ctx, o.ID, o.ClientID, fmt.Sprintf("pay-%s-%d", o.ID[:8], n)); err != nil && !tolerable(err) {
					return fmt.Errorf("engagement driver: pay: %w", err)
				}
			case order.StatusInProgress:
				if rand.Intn(2) == 0 {
					if _, err := svc.Orders.CompleteByProvider(ctx, o.ID, o.ProviderID); err != nil && !tolerable(err) {
						return fmt.Errorf("engagement driver: complete: %w", err)
					}
				} else {
					if _, err := svc.Orders.Cancel(ctx, o.ID, o.ProviderID); err != nil && !tolerable(err) {
						return fmt.Errorf("engagement driver: cancel: %w", err)
					}
				}
			}
		}
		pause(30, 60)
	}
}

// Reviewer races review submissions: exactly one must win, the rest must see
// a conflict and mutate nothing.
func Reviewer(ctx context.Context, svc Services, jobID, clientID, providerID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := svc.Reviews.Submit(ctx, review.SubmitParams{
			JobID:      jobID,
			ClientID:   clientID,
			ProviderID: providerID,
			Rating:     1 + rand.Intn(5),
		})
		if err != nil && !errors.Is(err, review.ErrConflict) {
			return fmt.Errorf("reviewer: %w", err)
		}
		pause(50, 100)
	}
}
