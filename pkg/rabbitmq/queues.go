package rabbitmq

import "time"

// QueueSpec declares one pipeline queue: its exchange/routing, its
// dead-letter wiring and its retry policy. Backoff is exponential unless
// FixedDelay is set, for queues whose failures are logic-shaped rather
// than transient-network-shaped.
type QueueSpec struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DLX           string
	DLQ           string
	DLQRoutingKey string
	MaxRetries    uint
	FixedDelay    time.Duration
}

const pipelineDLX = "pipeline_exchange_dlx"

var (
	// StitchQueue feeds the stitch stage. Stitch failures are mostly
	// storage blips, so it retries on an exponential curve.
	StitchQueue = QueueSpec{
		Exchange:      "pipeline_exchange",
		Queue:         "stitching-processing",
		RoutingKey:    "pipeline.stitch.request",
		DLX:           pipelineDLX,
		DLQ:           "stitching-processing-dlq",
		DLQRoutingKey: "dlq.pipeline.stitch.request",
		MaxRetries:    5,
	}

	// TranscodeQueue feeds the transcode stage. ffmpeg failures are not
	// transient, so retries are few and fixed-spaced.
	TranscodeQueue = QueueSpec{
		Exchange:      "pipeline_exchange",
		Queue:         "transcode-processing",
		RoutingKey:    "pipeline.transcode.request",
		DLX:           pipelineDLX,
		DLQ:           "transcode-processing-dlq",
		DLQRoutingKey: "dlq.pipeline.transcode.request",
		MaxRetries:    3,
		FixedDelay:    15 * time.Second,
	}

	// PublishQueue feeds the publish stage.
	PublishQueue = QueueSpec{
		Exchange:      "pipeline_exchange",
		Queue:         "publish-processing",
		RoutingKey:    "pipeline.publish.request",
		DLX:           pipelineDLX,
		DLQ:           "publish-processing-dlq",
		DLQRoutingKey: "dlq.pipeline.publish.request",
		MaxRetries:    5,
	}
)
