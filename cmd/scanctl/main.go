// Command scanctl requests a surface scan for one video, waits for it to
// finish and prints the detected surfaces.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/rabbitmq"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/poller"
	"github.com/martinatfullscale/fullscale-app-sub001/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type options struct {
	baseURL   string
	token     string
	amqpURL   string
	exchange  string
	queue     string
	interval  time.Duration
	maxWait   time.Duration
	noTrigger bool
	asJSON    bool
	logLevel  string
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "addr", envOr("SCAN_API_URL", "http://localhost:8080"), "scan service base URL")
	flag.StringVar(&opts.token, "token", os.Getenv("SCAN_API_TOKEN"), "bearer token for scan endpoints")
	flag.StringVar(&opts.amqpURL, "amqp", "", "request the scan over RabbitMQ at this URL instead of HTTP")
	flag.StringVar(&opts.exchange, "exchange", "surface.scan", "exchange for -amqp")
	flag.StringVar(&opts.queue, "queue", "video.scan", "scan request routing key for -amqp")
	flag.DurationVar(&opts.interval, "interval", poller.DefaultInterval, "poll interval")
	flag.DurationVar(&opts.maxWait, "max-wait", poller.DefaultMaxWait, "give up after this long")
	flag.BoolVar(&opts.noTrigger, "no-trigger", false, "only poll, do not request a scan")
	flag.BoolVar(&opts.asJSON, "json", false, "print surfaces as JSON")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <video-id>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Arg(0), log); err != nil {
		fmt.Fprintln(os.Stderr, "scanctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, videoID string, log *zap.Logger) error {
	src := poller.NewHTTPSource(opts.baseURL, opts.token, 10*time.Second)

	// Terminal statuses written before the request belong to the previous scan.
	var since time.Time
	if !opts.noTrigger {
		before, err := src.Status(ctx, videoID)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		since = before.UpdatedAt
		if err := trigger(ctx, opts, src, videoID, log); err != nil {
			return err
		}
	}

	p := poller.New(src, src, log)
	p.Interval = opts.interval
	p.MaxWait = opts.maxWait

	res, err := p.PollSince(ctx, videoID, since)
	if errors.Is(err, poller.ErrGaveUp) {
		return fmt.Errorf("%w; the scan may still finish, rerun with -no-trigger", err)
	}
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"videoId":  videoID,
			"status":   res.Status.String(),
			"surfaces": res.Surfaces,
		})
	}
	return printTable(videoID, res)
}

func trigger(ctx context.Context, opts options, src *poller.HTTPSource, videoID string, log *zap.Logger) error {
	if opts.amqpURL != "" {
		conn, err := amqp.Dial(opts.amqpURL)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()

		pub, err := rabbitmq.NewPublisher(conn, opts.exchange)
		if err != nil {
			return err
		}
		defer pub.Close()

		body, err := json.Marshal(entity.ScanRequestMessage{VideoID: videoID})
		if err != nil {
			return err
		}
		if err := rabbitmq.NewScanRequestPublisher(pub, opts.queue).PublishRequest(ctx, body); err != nil {
			return fmt.Errorf("publish scan request: %w", err)
		}
		log.Info("scan request published", zap.String("video_id", videoID))
		return nil
	}

	jobID, started, err := src.RequestScan(ctx, videoID)
	if err != nil {
		return fmt.Errorf("request scan: %w", err)
	}
	log.Info("scan requested", zap.String("video_id", videoID), zap.String("job_id", jobID), zap.Bool("job_started", started))
	return nil
}

func printTable(videoID string, res poller.Result) error {
	fmt.Printf("%s: %s (%d polls, %s)\n", videoID, res.Status.String(), res.Polls, res.Elapsed.Round(time.Millisecond))
	if len(res.Surfaces) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCONF\tX\tY\tW\tH")
	for _, s := range res.Surfaces {
		b := s.BoundingBox
		fmt.Fprintf(w, "%.2f\t%s\t%.2f\t%.3f\t%.3f\t%.3f\t%.3f\n", s.Timestamp, s.SurfaceType, s.Confidence, b.X, b.Y, b.Width, b.Height)
	}
	return w.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
