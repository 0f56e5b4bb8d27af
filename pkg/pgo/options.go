package pgo

import (
	"net"
	"time"

	"github.com/pulsago/pulsago/logger"
	"github.com/pulsago/pulsago/metrics"
	"github.com/pulsago/pulsago/pkg/pmsg"
	"github.com/pulsago/pulsago/pkg/queue"
)

// Strategy is the partition-routing strategy a caller's supervised-producer
// façade would pick among (spec.md section 4.4). The actor itself never
// reads this field; it is carried on Options purely because spec.md lists
// it as a producer option the façade consumes.
type Strategy int8

const (
	StrategyRoundRobin Strategy = iota
	StrategyRandom
	StrategyKeyDispatch
)

// TCPOptions are the socket settings handed to the Dialer. defaultDialer
// applies NoDelay, and RecvBuf/SendBuf as the socket's read and write buffer
// sizes when positive; the two sizes are set independently, not both to the
// larger one. ReuseAddr is carried but defaultDialer does not apply it. The
// write deadline is Options.sendTimeout (60s by default), applied per write.
type TCPOptions struct {
	NoDelay   bool
	ReuseAddr bool
	RecvBuf   int
	SendBuf   int
}

func defaultTCPOptions() TCPOptions {
	return TCPOptions{NoDelay: true, ReuseAddr: true, RecvBuf: 128 << 10, SendBuf: 128 << 10}
}

// Dialer opens the transport connection to a broker. Substituting a secure
// transport (e.g. TLS) is done by supplying a Dialer that wraps the result
// of a net.Dialer in a tls.Conn; spec.md section 1 requires this core to
// permit that without specifying TLS itself.
type Dialer func(network, addr string, tcpOpts TCPOptions, timeout time.Duration) (net.Conn, error)

func defaultDialer(network, addr string, tcpOpts TCPOptions, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(tcpOpts.NoDelay)
		if tcpOpts.RecvBuf > 0 {
			_ = tc.SetReadBuffer(tcpOpts.RecvBuf)
		}
		if tcpOpts.SendBuf > 0 {
			_ = tc.SetWriteBuffer(tcpOpts.SendBuf)
		}
	}
	return conn, nil
}

// Options configures a PartitionProducer (spec.md section 6). The
// functional-options constructors below follow the With<Thing> shape this
// pack's other franz-go fork (NyaliaLui-franz-go's config.go) uses for the
// same kind of client configuration.
type Options struct {
	batchSize int

	strategy Strategy

	callback func(SendResult)

	tcpOpts TCPOptions
	dialer  Dialer

	queueOpts queue.Options

	compression pmsg.CompressionType

	connectTimeout  time.Duration
	sendTimeout     time.Duration
	keepaliveEvery  time.Duration
	reconnectDelay  time.Duration
	syncCallTimeout time.Duration
	clientVersion   string
	protocolVersion int32

	logger  logger.Logger
	metrics *metrics.Collector
}

// Opt mutates Options; Opts are applied in order by New.
type Opt func(*Options)

func defaultOptions() Options {
	return Options{
		batchSize:       0,
		strategy:        StrategyRoundRobin,
		tcpOpts:         defaultTCPOptions(),
		dialer:          defaultDialer,
		queueOpts:       queue.Options{RetentionPeriod: queue.Infinity},
		compression:     pmsg.CompressionNone,
		connectTimeout:  60 * time.Second,
		sendTimeout:     60 * time.Second,
		keepaliveEvery:  30 * time.Second,
		reconnectDelay:  5 * time.Second,
		syncCallTimeout: 5 * time.Second,
		clientVersion:   "pulsago-client",
		protocolVersion: 13,
		logger:          logger.Nop{},
	}
}

// WithBatchSize sets the soft maximum of messages coalesced per send;
// 0 (the default) disables coalescing, matching spec.md's default.
func WithBatchSize(n int) Opt {
	return func(o *Options) { o.batchSize = n }
}

// WithStrategy records the routing strategy the owning façade intends to
// use; it has no effect on this actor's own behavior.
func WithStrategy(s Strategy) Opt {
	return func(o *Options) { o.strategy = s }
}

// WithCallback installs the async result sink invoked once per completed
// batch (spec.md section 3).
func WithCallback(fn func(SendResult)) Opt {
	return func(o *Options) { o.callback = fn }
}

// WithTCPOptions replaces this core's socket defaults with opts as a whole;
// fields of opts left at their zero value are not filled in from the
// defaults.
func WithTCPOptions(opts TCPOptions) Opt {
	return func(o *Options) { o.tcpOpts = opts }
}

// WithDialer overrides how the actor opens its transport connection; use
// this to substitute TLS or a test double.
func WithDialer(d Dialer) Opt {
	return func(o *Options) { o.dialer = d }
}

// WithReplayDir enables durable (disk-backed) spooling under dir. Absent,
// the queue is mem-only (spec.md section 4.3).
func WithReplayDir(dir string) Opt {
	return func(o *Options) { o.queueOpts.Dir = dir }
}

// WithReplaySegBytes sets the on-disk segment file size.
func WithReplaySegBytes(n int64) Opt {
	return func(o *Options) { o.queueOpts.SegBytes = n }
}

// WithReplayOffloadMode, if true, bypasses RAM fronting for the durable
// queue.
func WithReplayOffloadMode(v bool) Opt {
	return func(o *Options) { o.queueOpts.OffloadMode = v }
}

// WithReplayMaxTotalBytes caps the durable queue's total outstanding bytes.
func WithReplayMaxTotalBytes(n int64) Opt {
	return func(o *Options) { o.queueOpts.MaxTotalBytes = n }
}

// WithRetentionPeriod bounds how long an undelivered message may age before
// the queue is allowed to drop it; queue.Infinity disables this.
func WithRetentionPeriod(d time.Duration) Opt {
	return func(o *Options) { o.queueOpts.RetentionPeriod = d }
}

// WithCompression selects the batch payload compression codec.
func WithCompression(c pmsg.CompressionType) Opt {
	return func(o *Options) { o.compression = c }
}

// WithLogger installs a structured logger; the default discards everything.
func WithLogger(l logger.Logger) Opt {
	return func(o *Options) { o.logger = logger.OrNop(l) }
}

// WithMetrics installs a Prometheus collector; nil (the default) disables
// metrics entirely.
func WithMetrics(m *metrics.Collector) Opt {
	return func(o *Options) { o.metrics = m }
}

// WithSyncCallTimeout sets the default send_sync caller timeout.
func WithSyncCallTimeout(d time.Duration) Opt {
	return func(o *Options) { o.syncCallTimeout = d }
}

// WithConnectTimeout overrides the 60s default connect timeout (spec.md
// section 5).
func WithConnectTimeout(d time.Duration) Opt {
	return func(o *Options) { o.connectTimeout = d }
}

// WithSendTimeout overrides the 60s default socket write deadline (spec.md
// section 4.1).
func WithSendTimeout(d time.Duration) Opt {
	return func(o *Options) { o.sendTimeout = d }
}

// WithKeepaliveEvery overrides the 30s default client-initiated ping
// interval (spec.md section 4.1).
func WithKeepaliveEvery(d time.Duration) Opt {
	return func(o *Options) { o.keepaliveEvery = d }
}

// WithReconnectDelay overrides the fixed 5s reconnect backoff (spec.md
// section 4.1 and section 7: "no exponential backoff beyond the fixed 5s
// delay in this core").
func WithReconnectDelay(d time.Duration) Opt {
	return func(o *Options) { o.reconnectDelay = d }
}

// WithClientVersion sets the client-version string sent in Connect.
func WithClientVersion(v string) Opt {
	return func(o *Options) { o.clientVersion = v }
}
