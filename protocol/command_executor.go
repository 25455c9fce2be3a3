// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/log"
	"github.com/cartertinney/iot-operations-sdks-sub011/internal/mqtt"
	"github.com/cartertinney/iot-operations-sdks-sub011/internal/options"
	"github.com/cartertinney/iot-operations-sdks-sub011/internal/wallclock"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/hlc"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/caching"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/constants"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/errutil"
)

type (
	// CommandExecutor provides the ability to execute a single command.
	CommandExecutor[Req any, Res any] struct {
		listener    *listener[Req]
		publisher   *publisher[Res]
		handler     CommandHandler[Req, Res]
		timeout     *internal.Timeout
		cache       *caching.Cache
		tokenPrefix string
		log         log.Logger
	}

	// CommandExecutorOption represents a single command executor option.
	CommandExecutorOption interface{ commandExecutor(*CommandExecutorOptions) }

	// CommandExecutorOptions are the resolved command executor options.
	CommandExecutorOptions struct {
		Idempotent bool
		CacheTTL   time.Duration

		Concurrency uint
		Timeout     time.Duration
		ShareName   string

		TokenMetadataPrefix string

		TopicNamespace string
		TopicTokens    map[string]string
		Logger         *slog.Logger
	}

	// CommandHandler is the user-provided implementation of a single command
	// execution. It is treated as blocking; all parallelism is handled by the
	// library. This *must* be thread-safe.
	CommandHandler[Req any, Res any] = func(
		context.Context,
		*CommandRequest[Req],
	) (*CommandResponse[Res], error)

	// CommandRequest contains per-message data and methods that are exposed to
	// the command handlers.
	CommandRequest[Req any] struct {
		Message[Req]

		// The fencing token attached to this request, if any.
		FencingToken hlc.HybridLogicalClock
	}

	// CommandResponse contains per-message data and methods that are returned
	// by the command handlers.
	CommandResponse[Res any] struct {
		Message[Res]
	}

	// WithIdempotent marks the command as idempotent.
	WithIdempotent bool

	// WithCacheTTL specifies how long responses of an idempotent command are
	// retained and replayed for duplicate requests.
	WithCacheTTL time.Duration

	// WithTokenMetadataPrefix mirrors the topic tokens resolved from the
	// request topic into response user properties under the given prefix.
	WithTokenMetadataPrefix string

	// RespondOption represent a single per-response option.
	RespondOption interface{ respond(*RespondOptions) }

	// RespondOptions are the resolved per-response options.
	RespondOptions struct {
		Metadata map[string]string
	}

	// InvocationError represents an error in the parameters of an invocation
	// that is reported by the command handler.
	InvocationError struct {
		Message       string
		PropertyName  string
		PropertyValue any
	}
)

const commandExecutorErrStr = "command execution"

// Error returns the invocation error as a string.
func (e InvocationError) Error() string {
	return e.Message
}

// NewCommandExecutor creates a new command executor.
func NewCommandExecutor[Req, Res any](
	app *Application,
	client MqttClient,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	handler CommandHandler[Req, Res],
	opt ...CommandExecutorOption,
) (ce *CommandExecutor[Req, Res], err error) {
	var opts CommandExecutorOptions
	opts.Apply(opt)
	logger := wrapLogger(opts.Logger, app)

	defer func() { err = errutil.Return(err, logger, true) }()

	if err := errutil.ValidateNonNil(map[string]any{
		"client":           client,
		"requestEncoding":  requestEncoding,
		"responseEncoding": responseEncoding,
		"handler":          handler,
	}); err != nil {
		return nil, err
	}

	to := &internal.Timeout{
		Duration: opts.Timeout,
		Name:     "ExecutionTimeout",
		Text:     commandExecutorErrStr,
	}
	if err := to.Validate(errors.ConfigurationInvalid); err != nil {
		return nil, err
	}

	if err := internal.ValidateShareName(opts.ShareName); err != nil {
		return nil, err
	}

	if opts.CacheTTL < 0 {
		return nil, &errors.Error{
			Message:       "cache TTL cannot be negative",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "CacheTTL",
			PropertyValue: opts.CacheTTL,
		}
	}

	reqTP, err := internal.NewTopicPattern(
		"requestTopicPattern",
		requestTopicPattern,
		opts.TopicTokens,
		opts.TopicNamespace,
	)
	if err != nil {
		return nil, err
	}

	reqTF, err := reqTP.Filter()
	if err != nil {
		return nil, err
	}

	// Responses are only cached past the lifetime of their request for
	// idempotent commands.
	cacheTTL := opts.CacheTTL
	if !opts.Idempotent {
		cacheTTL = 0
	}

	// A single handler at a time unless the caller opts into parallelism.
	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}

	ce = &CommandExecutor[Req, Res]{
		handler:     handler,
		timeout:     to,
		cache:       caching.New(wallclock.Instance, cacheTTL),
		tokenPrefix: opts.TokenMetadataPrefix,
		log:         logger,
	}
	ce.listener = &listener[Req]{
		app:            app,
		client:         client,
		encoding:       requestEncoding,
		topic:          reqTF,
		shareName:      opts.ShareName,
		concurrency:    concurrency,
		reqCorrelation: true,
		reqClientID:    true,
		versionKind:    errors.UnsupportedRequestVersion,
		log:            logger,
		handler:        ce,
	}
	ce.publisher = &publisher[Res]{
		app:      app,
		client:   client,
		encoding: responseEncoding,
	}

	ce.listener.register()
	return ce, nil
}

// Start listening to the MQTT request topic.
func (ce *CommandExecutor[Req, Res]) Start(ctx context.Context) error {
	ce.log.Info(ctx, "command executor subscribing",
		slog.String("topic", ce.listener.filter()),
	)
	return ce.listener.listen(ctx)
}

// Close the command executor to free its resources.
func (ce *CommandExecutor[Req, Res]) Close() {
	ce.log.Info(context.Background(), "command executor closing")
	ce.listener.close()
}

func (ce *CommandExecutor[Req, Res]) onMsg(
	ctx context.Context,
	pub *mqtt.Message,
	msg *Message[Req],
) error {
	ce.log.Debug(ctx, "request received",
		slog.String("topic", pub.Topic),
		slog.String("correlation_data", msg.CorrelationData),
	)

	if err := ignoreRequest(pub); err != nil {
		return err
	}

	if pub.MessageExpiry == 0 {
		return &errors.Error{
			Message:    "message expiry missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.MessageExpiry,
		}
	}

	rpub, err := ce.cache.Exec(pub, func() (*mqtt.Message, error) {
		req := &CommandRequest[Req]{Message: *msg}
		var err error

		if ft := pub.UserProperties[constants.FencingToken]; ft != "" {
			req.FencingToken, err = ce.listener.app.hlc.Parse(
				constants.FencingToken, ft,
			)
			if err != nil {
				return nil, err
			}
		}

		req.Payload, err = ce.listener.payload(pub)
		if err != nil {
			return nil, err
		}

		handlerCtx, cancel := ce.timeout.Context(ctx)
		defer cancel()

		handlerCtx, cancel = pubTimeout(pub).Context(handlerCtx)
		defer cancel()

		res, err := ce.handle(handlerCtx, req)
		if err != nil {
			return nil, err
		}

		return ce.build(pub, res, nil)
	})
	if err != nil {
		return err
	}

	defer ce.ack(ctx, pub)

	// A nil response with no error means the request expired before a
	// response could be produced; there is nobody left to answer.
	if rpub == nil {
		return nil
	}

	if err := ce.publisher.publish(ctx, rpub); err != nil {
		// If the publish fails onErr will also fail, so just drop the message.
		ce.listener.drop(ctx, pub, err)
	} else {
		ce.log.Debug(ctx, "response sent",
			slog.String("topic", rpub.Topic),
			slog.String("correlation_data", msg.CorrelationData),
		)
	}
	return nil
}

func (ce *CommandExecutor[Req, Res]) onErr(
	ctx context.Context,
	pub *mqtt.Message,
	err error,
) error {
	defer ce.ack(ctx, pub)

	if e := ignoreRequest(pub); e != nil {
		return e
	}

	// If the error is a no-return error, don't send it.
	if no, e := errutil.IsNoReturn(err); no {
		return e
	}

	rpub, e := ce.build(pub, nil, err)
	if e != nil {
		return e
	}
	if e := ce.publisher.publish(ctx, rpub); e != nil {
		return e
	}

	// We successfully returned the error in the response, so just log it as a
	// warning.
	ce.log.WarnErr(ctx, err)
	return nil
}

// Call the handler with a panic catch.
func (ce *CommandExecutor[Req, Res]) handle(
	ctx context.Context,
	req *CommandRequest[Req],
) (*CommandResponse[Res], error) {
	rchan := make(chan commandReturn[Res])

	// Note: this goroutine will leak if the handler blocks without respecting
	// the context. This is a known limitation shared with the other language
	// implementations.
	go func() {
		var ret commandReturn[Res]
		defer func() {
			if ePanic := recover(); ePanic != nil {
				// The handler owns its own panics, so they count as
				// application errors.
				ret.err = &errors.Error{
					Message:       fmt.Sprint(ePanic),
					Kind:          errors.ExecutionException,
					InApplication: true,
				}
			}

			select {
			case rchan <- ret:
			case <-ctx.Done():
			}
		}()

		ret.res, ret.err = ce.handler(ctx, req)
		if e := errutil.Context(ctx, commandExecutorErrStr); e != nil {
			// An error from the context overrides any return value.
			ret.err = e
		} else if ret.err != nil {
			if ie, ok := ret.err.(InvocationError); ok {
				ret.err = &errors.Error{
					Message:       ie.Message,
					Kind:          errors.InvocationException,
					PropertyName:  ie.PropertyName,
					PropertyValue: ie.PropertyValue,
					InApplication: true,
				}
			} else if pe, ok := ret.err.(*errors.Error); ok {
				// Protocol errors from the handler retain their kind but are
				// flagged as application errors.
				cp := *pe
				cp.InApplication = true
				ret.err = &cp
			} else {
				ret.err = &errors.Error{
					Message:       ret.err.Error(),
					Kind:          errors.ExecutionException,
					InApplication: true,
				}
			}
		} else if ret.res == nil {
			ret.err = &errors.Error{
				Message: "command handler returned no response",
				Kind:    errors.ExecutionException,
			}
		}
	}()

	select {
	case ret := <-rchan:
		return ret.res, ret.err
	case <-ctx.Done():
		return nil, errutil.Context(ctx, commandExecutorErrStr)
	}
}

// Build the response publish packet.
func (ce *CommandExecutor[Req, Res]) build(
	pub *mqtt.Message,
	res *CommandResponse[Res],
	resErr error,
) (*mqtt.Message, error) {
	var msg *Message[Res]
	if res != nil {
		msg = &res.Message
	}
	rpub, err := ce.publisher.build(msg, nil, pubTimeout(pub))
	if err != nil {
		return nil, err
	}

	rpub.CorrelationData = pub.CorrelationData
	rpub.Topic = pub.ResponseTopic
	rpub.MessageExpiry = pub.MessageExpiry

	if invoker := pub.UserProperties[constants.SenderClientID]; invoker != "" {
		rpub.UserProperties[constants.InvokerClientID] = invoker
	}

	noContent := resErr == nil && len(rpub.Payload) == 0
	maps.Copy(rpub.UserProperties, errutil.ToUserProp(resErr, noContent))

	if ce.tokenPrefix != "" {
		if tokens, ok := ce.listener.topic.Tokens(pub.Topic); ok {
			for token, value := range tokens {
				rpub.UserProperties[ce.tokenPrefix+token] = value
			}
		}
	}

	return rpub, nil
}

// Check whether this message should be ignored and why.
func ignoreRequest(pub *mqtt.Message) error {
	if pub.ResponseTopic == "" {
		return errutil.NoReturn(&errors.Error{
			Message:    "missing response topic",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.ResponseTopic,
		})
	}
	if !internal.ValidTopic(pub.ResponseTopic) {
		return errutil.NoReturn(&errors.Error{
			Message:     "invalid response topic",
			Kind:        errors.HeaderInvalid,
			HeaderName:  constants.ResponseTopic,
			HeaderValue: pub.ResponseTopic,
		})
	}
	return nil
}

// Ack the request and log it.
func (ce *CommandExecutor[Req, Res]) ack(
	ctx context.Context,
	pub *mqtt.Message,
) {
	pub.Ack()
	ce.log.Debug(ctx, "request acked",
		slog.String("topic", pub.Topic),
	)
}

// Build a timeout based on the message's expiry.
func pubTimeout(pub *mqtt.Message) *internal.Timeout {
	return &internal.Timeout{
		Duration: time.Duration(pub.MessageExpiry) * time.Second,
		Name:     "MessageExpiry",
		Text:     commandExecutorErrStr,
	}
}

// Respond is a shorthand to create a command response with required values and
// options set appropriately. Note that the response may be incomplete and will
// be filled out by the library after being returned.
func Respond[Res any](
	payload Res,
	opt ...RespondOption,
) (*CommandResponse[Res], error) {
	var opts RespondOptions
	opts.Apply(opt)

	return &CommandResponse[Res]{Message[Res]{
		Payload:  payload,
		Metadata: opts.Metadata,
	}}, nil
}

// Apply resolves the provided list of options.
func (o *CommandExecutorOptions) Apply(
	opts []CommandExecutorOption,
	rest ...CommandExecutorOption,
) {
	for opt := range options.Apply[CommandExecutorOption](opts, rest...) {
		opt.commandExecutor(o)
	}
}

// ApplyOptions filters and resolves the provided list of options.
func (o *CommandExecutorOptions) ApplyOptions(opts []Option, rest ...Option) {
	for opt := range options.Apply[CommandExecutorOption](opts, rest...) {
		opt.commandExecutor(o)
	}
}

func (o *CommandExecutorOptions) commandExecutor(opt *CommandExecutorOptions) {
	if o != nil {
		*opt = *o
	}
}

func (*CommandExecutorOptions) option() {}

func (o WithIdempotent) commandExecutor(opt *CommandExecutorOptions) {
	opt.Idempotent = bool(o)
}

func (WithIdempotent) option() {}

func (o WithCacheTTL) commandExecutor(opt *CommandExecutorOptions) {
	opt.CacheTTL = time.Duration(o)
}

func (WithCacheTTL) option() {}

func (o WithTokenMetadataPrefix) commandExecutor(opt *CommandExecutorOptions) {
	opt.TokenMetadataPrefix = string(o)
}

func (WithTokenMetadataPrefix) option() {}

// Apply resolves the provided list of options.
func (o *RespondOptions) Apply(
	opts []RespondOption,
	rest ...RespondOption,
) {
	for opt := range options.Apply[RespondOption](opts, rest...) {
		opt.respond(o)
	}
}

func (o *RespondOptions) respond(opt *RespondOptions) {
	if o != nil {
		*opt = *o
	}
}
