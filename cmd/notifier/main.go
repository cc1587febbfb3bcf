package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/airbar/internal/notify"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total notification events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total invalid events received",
	})
	deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_deliveries_total",
		Help: "Total successful webhook deliveries",
	})
	deliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_delivery_errors_total",
		Help: "Total webhook delivery failures",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, deliveries, deliveryErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "airbar-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "airbar-notifier"
	}
	webhook := os.Getenv("NOTIFY_WEBHOOK_URL")
	if webhook == "" {
		webhook = "http://localhost:9000/notify"
	}

	sender := &webhookSender{endpoint: webhook, key: os.Getenv("NOTIFY_WEBHOOK_KEY"),
		client: &http.Client{Timeout: 3 * time.Second}}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log.Printf("notifier listening topic=%s brokers=%v group=%s webhook=%s", topic, brokers, group, webhook)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		eventsConsumed.Inc()

		var e notify.Event
		if err := json.Unmarshal(m.Value, &e); err != nil {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		if err := deliverWithRetry(ctx, sender, e, 3, 200*time.Millisecond); err != nil {
			deliveryErrors.Inc()
			log.Printf("delivery failed for user=%s type=%s: %v", e.UserID, e.Type, err)
			continue
		}
		deliveries.Inc()
	}
}

// Sender delivers one event; split out so retries are testable.
type Sender interface {
	Send(ctx context.Context, e notify.Event) error
}

type webhookSender struct {
	endpoint string
	key      string
	client   *http.Client
}

func (s *webhookSender) Send(ctx context.Context, e notify.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.key != "" {
		req.Header.Set("Authorization", "Bearer "+s.key)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &deliveryError{status: resp.StatusCode}
	}
	return nil
}

type deliveryError struct{ status int }

func (e *deliveryError) Error() string { return "webhook status " + http.StatusText(e.status) }

// deliverWithRetry posts the event with exponential backoff between attempts.
func deliverWithRetry(ctx context.Context, s Sender, e notify.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.Send(ctx, e); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
