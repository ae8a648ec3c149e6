package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal/clients"
	"github.com/wormhole-demo/verifier/internal/replay"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

// Listener subscribes to a spy's signed-VAA stream and feeds every received
// VAA through the processor. It only receives; nothing is submitted anywhere.
type Listener struct {
	spyClient *clients.SpyClient
	processor *Processor
	filter    Filter
	logger    *zap.Logger
}

func NewListener(logger *zap.Logger, spyClient *clients.SpyClient, processor *Processor, filter Filter) *Listener {
	return &Listener{
		logger:    logger.With(zap.String("component", "Listener")),
		spyClient: spyClient,
		processor: processor,
		filter:    filter,
	}
}

// Close cleans up resources used by the listener
func (l *Listener) Close() {
	if l.spyClient != nil {
		l.spyClient.Close()
	}
}

// Start begins receiving VAAs and verifying them
func (l *Listener) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	stream, err := l.spyClient.SubscribeSignedVAA(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to VAA stream: %v", err)
	}

	l.logger.Info("Listening for VAAs")

	// Separate context so in-flight verifications drain on shutdown
	processingCtx, cancelProcessing := context.WithCancel(context.Background())
	defer cancelProcessing()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Shutting down listener")
			cancelProcessing()
			l.logger.Info("Waiting for in-flight verifications to complete")
			wg.Wait()
			l.logger.Info("Shutdown complete")
			return nil
		default:
			resp, err := stream.Recv()
			if err != nil {
				l.logger.Warn("Stream error, retrying in 5s", zap.Error(err))
				time.Sleep(5 * time.Second)
				stream, err = l.spyClient.SubscribeSignedVAA(ctx)
				if err != nil {
					cancelProcessing()
					wg.Wait()
					return fmt.Errorf("subscribe to VAA stream after retry: %v", err)
				}
				continue
			}

			wg.Add(1)
			go func(vaaBytes []byte) {
				defer wg.Done()
				l.handleVAA(processingCtx, vaaBytes)
			}(resp.VaaBytes)
		}
	}
}

func (l *Listener) handleVAA(ctx context.Context, vaaBytes []byte) {
	select {
	case <-ctx.Done():
		l.logger.Debug("Processing cancelled for VAA")
		return
	default:
	}

	// Peek at the envelope for filtering; full validation happens in Submit.
	v, err := vaa.Unmarshal(vaaBytes)
	if err != nil {
		l.logger.Debug("Ignoring malformed VAA from stream", zap.Error(err))
		return
	}

	if !l.filter.Matches(v) {
		l.logger.Debug("Skipping VAA (filtered)",
			zap.String("chain", ChainName(v.EmitterChain)),
			zap.String("emitter", FormatEmitter(v.EmitterChain, v.EmitterAddress)),
			zap.Uint64("sequence", v.Sequence))
		return
	}

	l.logger.Debug("Received VAA",
		zap.String("chain", ChainName(v.EmitterChain)),
		zap.String("emitter", FormatEmitter(v.EmitterChain, v.EmitterAddress)),
		zap.Uint64("sequence", v.Sequence),
		zap.Int("payloadLength", len(v.Payload)))

	msg, err := l.processor.Submit(ctx, vaaBytes)
	if err != nil {
		if errors.Is(err, replay.ErrAlreadyProcessed) {
			l.logger.Debug("VAA already processed", zap.String("messageId", v.MessageID()))
			return
		}
		l.logger.Error("VAA rejected",
			zap.String("messageId", v.MessageID()),
			zap.Error(err))
		return
	}

	if msg.Governance != nil {
		l.logger.Info("Governance VAA applied",
			zap.String("messageId", msg.VAA.MessageID()),
			zap.String("action", msg.Governance.Action.String()))
	}
}
