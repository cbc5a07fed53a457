// Package codec is the gRPC client to the Python inference side-car that owns
// retrieval, generation, sentence embeddings, token logits and NLI scoring.
// Messages travel as google.protobuf.Struct so the side-car needs no generated Go code.
package codec

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/riskgate/internal/eval"
	"github.com/danielpatrickdp/riskgate/internal/retrieval"
)

// #region methods
const (
	serviceName       = "/riskgate.v1.Inference/"
	methodAnswer      = serviceName + "Answer"
	methodSample      = serviceName + "Sample"
	methodEmbed       = serviceName + "Embed"
	methodTokenLogits = serviceName + "TokenLogits"
	methodEntail      = serviceName + "Entail"
)

// #endregion methods

// #region config
// ClientConfig holds transport limits for the side-car.
type ClientConfig struct {
	CallTimeout time.Duration // per attempt; 0 leaves the caller's deadline in charge
	MaxRetries  uint64        // retries after the first attempt for transient codes
	RetryBase   time.Duration // Fibonacci backoff base
	EmbedRate   float64       // embed calls per second; 0 = unlimited
	EmbedBurst  int
}

// DefaultClientConfig returns sensible defaults for a local side-car.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		CallTimeout: 30 * time.Second,
		MaxRetries:  3,
		RetryBase:   200 * time.Millisecond,
		EmbedRate:   20,
		EmbedBurst:  4,
	}
}

// #endregion config

// #region client-struct
// Invoker is the unary-call surface of *grpc.ClientConn.
type Invoker interface {
	Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error
}

// CodecClient wraps the gRPC connection to the Python inference service.
type CodecClient struct {
	conn    *grpc.ClientConn
	invoker Invoker
	config  ClientConfig
	limiter *rate.Limiter
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the Python inference gRPC server.
func NewCodecClient(addr string, config ClientConfig) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewCodecClientWithInvoker(conn, config)
	c.conn = conn
	return c, nil
}

// NewCodecClientWithInvoker creates a CodecClient over an injected invoker.
// Used for testing without a real gRPC connection.
func NewCodecClientWithInvoker(inv Invoker, config ClientConfig) *CodecClient {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.EmbedRate > 0 {
		burst := config.EmbedBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.EmbedRate), burst)
	}
	return &CodecClient{invoker: inv, config: config, limiter: limiter}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region call
func (c *CodecClient) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	backoff := retry.WithMaxRetries(c.config.MaxRetries, retry.NewFibonacci(c.retryBase()))
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*structpb.Struct, error) {
		callCtx, cancel := c.attemptContext(ctx)
		defer cancel()

		reply := &structpb.Struct{}
		if err := c.invoker.Invoke(callCtx, method, in, reply); err != nil {
			if retryable(err) {
				return nil, retry.RetryableError(err)
			}
			return nil, err
		}
		return reply, nil
	})
}

func (c *CodecClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.CallTimeout)
}

func (c *CodecClient) retryBase() time.Duration {
	if c.config.RetryBase <= 0 {
		return 100 * time.Millisecond
	}
	return c.config.RetryBase
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// #endregion call

// #region answer
// Answer retrieves evidence and generates the primary answer for query.
func (c *CodecClient) Answer(ctx context.Context, query string) (retrieval.Answer, error) {
	resp, err := c.call(ctx, methodAnswer, map[string]any{"query": query})
	if err != nil {
		return retrieval.Answer{}, fmt.Errorf("answer rpc: %w", err)
	}

	ans := retrieval.Answer{Text: resp.GetFields()["text"].GetStringValue()}
	for _, v := range resp.GetFields()["evidence"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		ans.Evidence = append(ans.Evidence, retrieval.Evidence{
			SourceID: f["source"].GetStringValue(),
			Text:     f["text"].GetStringValue(),
			Score:    float32(f["score"].GetNumberValue()),
		})
	}
	return ans, nil
}

// #endregion answer

// #region sample
// Sample draws k alternate answers for query.
func (c *CodecClient) Sample(ctx context.Context, query string, k int) ([]string, error) {
	resp, err := c.call(ctx, methodSample, map[string]any{"query": query, "k": k})
	if err != nil {
		return nil, fmt.Errorf("sample rpc: %w", err)
	}
	values := resp.GetFields()["samples"].GetListValue().GetValues()
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.GetStringValue()
	}
	return out, nil
}

// #endregion sample

// #region embed
// Embed returns one sentence embedding per text. Calls are rate limited.
func (c *CodecClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limit: %w", err)
	}
	resp, err := c.call(ctx, methodEmbed, map[string]any{"texts": stringList(texts)})
	if err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	return matrix(resp.GetFields()["vectors"]), nil
}

// #endregion embed

// #region token-logits
// TokenLogits returns per-token logit rows for text under the side-car's LM.
func (c *CodecClient) TokenLogits(ctx context.Context, text string) ([][]float32, error) {
	resp, err := c.call(ctx, methodTokenLogits, map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("token logits rpc: %w", err)
	}
	return matrix(resp.GetFields()["logits"]), nil
}

// #endregion token-logits

// #region entail
// Entail returns the entailment probability for each (premise, hypothesis) pair.
func (c *CodecClient) Entail(ctx context.Context, pairs []eval.EntailmentPair) ([]float64, error) {
	list := make([]any, len(pairs))
	for i, p := range pairs {
		list[i] = map[string]any{"premise": p.Premise, "hypothesis": p.Hypothesis}
	}
	resp, err := c.call(ctx, methodEntail, map[string]any{"pairs": list})
	if err != nil {
		return nil, fmt.Errorf("entail rpc: %w", err)
	}
	values := resp.GetFields()["entailment"].GetListValue().GetValues()
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.GetNumberValue()
	}
	return out, nil
}

// #endregion entail

// #region helpers
func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func matrix(v *structpb.Value) [][]float32 {
	rows := v.GetListValue().GetValues()
	out := make([][]float32, len(rows))
	for i, r := range rows {
		cols := r.GetListValue().GetValues()
		row := make([]float32, len(cols))
		for j, x := range cols {
			row[j] = float32(x.GetNumberValue())
		}
		out[i] = row
	}
	return out
}

// #endregion helpers
