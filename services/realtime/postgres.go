package realtime

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

const postgresChannel = "school_connect_changes"

// PostgresHub uses LISTEN/NOTIFY on a single channel. The notify payload is the topic.
type PostgresHub struct {
	*registry

	db       *sql.DB
	listener *pq.Listener
	wg       sync.WaitGroup
}

// NewPostgresHub opens a notify connection and a dedicated listener connection
func NewPostgresHub(dsn string) (*PostgresHub, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open notify connection: %w", err)
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("Postgres listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(postgresChannel); err != nil {
		_ = listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", postgresChannel, err)
	}

	h := &PostgresHub{
		registry: newRegistry(),
		db:       db,
		listener: listener,
	}

	h.wg.Add(1)
	go h.listen()

	return h, nil
}

func (h *PostgresHub) listen() {
	defer h.wg.Done()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-h.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect: anything may have been missed
			if n == nil {
				h.dispatchAll()
				continue
			}
			h.dispatch(n.Extra)
		case <-ping.C:
			go func() {
				if err := h.listener.Ping(); err != nil {
					log.Printf("Postgres listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (h *PostgresHub) Publish(ctx context.Context, topic string) error {
	if _, err := h.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", postgresChannel, topic); err != nil {
		return fmt.Errorf("failed to notify %s: %w", topic, err)
	}
	return nil
}

func (h *PostgresHub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return h.add(ctx, topic)
}

func (h *PostgresHub) Close() error {
	h.closeAll()
	err := h.listener.Close()
	h.wg.Wait()
	if dbErr := h.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
