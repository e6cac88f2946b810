package interceptors

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/mennanov/fmutils"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/rainbow-me/platform-mdc/common/logger"
)

const (
	componentName = "grpc"

	grpcKey     = "grpc"
	durationKey = "duration"
	requestKey  = "request"
	responseKey = "response"
)

const (
	DefaultInterceptorLogLevel      = zapcore.InfoLevel
	DefaultInterceptorErrorLogLevel = zapcore.ErrorLevel
)

var methodRegex = regexp.MustCompile(`\/(.+)\/(.+)$`)

// LoggingInterceptorConfig controls the line written once a call completes.
type LoggingInterceptorConfig struct {
	LogEnabled         bool
	LogRequests        bool
	LogResponses       bool
	LogParamsBlocklist []fieldmaskpb.FieldMask
	LogLevel           zapcore.Level
	ErrorLogLevel      zapcore.Level

	// Overrides ErrorLogLevel for the listed codes. codes.OK always uses LogLevel.
	GrpcCodeLogLevel map[codes.Code]zapcore.Level

	skipLoggingByMethod map[string]struct{}
}

type LoggingInterceptorOption func(*LoggingInterceptorConfig)

func LogEnabled(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogEnabled = v
	}
}

// LogParams logs both request and response payloads.
func LogParams(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
		o.LogResponses = v
	}
}

func LogRequests(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
	}
}

func LogResponses(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogResponses = v
	}
}

// LogParamsBlocklist prunes the given field paths from logged payloads.
func LogParamsBlocklist(paths ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogParamsBlocklist = append(o.LogParamsBlocklist, fieldmaskpb.FieldMask{Paths: paths})
	}
}

func LogLevel(level zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogLevel = level
	}
}

func ErrorLogLevel(level zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.ErrorLogLevel = level
	}
}

func GrpcCodeLogLevel(levels map[codes.Code]zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.GrpcCodeLogLevel = levels
	}
}

func WithSkippedLogsByMethods(methods ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		if o.skipLoggingByMethod == nil {
			o.skipLoggingByMethod = make(map[string]struct{}, len(methods))
		}
		for _, method := range methods {
			o.skipLoggingByMethod[method] = struct{}{}
		}
	}
}

// DefaultCodeLogLevels logs caller mistakes as warnings, like 4xx responses on HTTP.
func DefaultCodeLogLevels() map[codes.Code]zapcore.Level {
	return map[codes.Code]zapcore.Level{
		codes.Canceled:           zapcore.WarnLevel,
		codes.InvalidArgument:    zapcore.WarnLevel,
		codes.NotFound:           zapcore.WarnLevel,
		codes.AlreadyExists:      zapcore.WarnLevel,
		codes.PermissionDenied:   zapcore.WarnLevel,
		codes.FailedPrecondition: zapcore.WarnLevel,
		codes.OutOfRange:         zapcore.WarnLevel,
		codes.Unauthenticated:    zapcore.WarnLevel,
	}
}

func interceptorConfig(opts ...LoggingInterceptorOption) *LoggingInterceptorConfig {
	cfg := &LoggingInterceptorConfig{
		LogEnabled:       true,
		LogLevel:         DefaultInterceptorLogLevel,
		ErrorLogLevel:    DefaultInterceptorErrorLogLevel,
		GrpcCodeLogLevel: DefaultCodeLogLevels(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// UnaryLoggerServerInterceptor writes one line per completed unary call:
// "[res] /pkg.Service/Method CODE (Nms)". It must run inside the request context interceptor.
func UnaryLoggerServerInterceptor(opts ...LoggingInterceptorOption) grpc.UnaryServerInterceptor {
	cfg := interceptorConfig(opts...)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, cfg, "[res]", info.FullMethod, req, resp, time.Since(start), err)
		return resp, err
	}
}

// StreamLoggerServerInterceptor writes one line once a stream handler returns.
func StreamLoggerServerInterceptor(opts ...LoggingInterceptorOption) grpc.StreamServerInterceptor {
	cfg := interceptorConfig(opts...)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), cfg, "[res]", info.FullMethod, nil, nil, time.Since(start), err)
		return err
	}
}

// UnaryLoggerClientInterceptor writes one line per outgoing unary call: "<- [res] /pkg.Service/Method CODE (Nms)".
func UnaryLoggerClientInterceptor(opts ...LoggingInterceptorOption) grpc.UnaryClientInterceptor {
	cfg := interceptorConfig(opts...)
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, callOpts...)
		logCall(ctx, cfg, "<- [res]", method, req, reply, time.Since(start), err)
		return err
	}
}

func logCall(
	ctx context.Context,
	cfg *LoggingInterceptorConfig,
	prefix, fullMethod string,
	req, resp any,
	duration time.Duration,
	err error,
) {
	if _, skip := cfg.skipLoggingByMethod[fullMethod]; skip {
		return
	}
	if !cfg.LogEnabled && err == nil {
		return
	}

	code := status.Code(err)
	service, method := GetServiceAndMethod(fullMethod)
	fields := []logger.Field{
		logger.Object(grpcKey, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			enc.AddString("service", service)
			enc.AddString("method", method)
			enc.AddString("code", code.String())
			return nil
		})),
		logger.Duration(durationKey, duration),
	}
	if cfg.LogRequests && req != nil {
		fields = append(fields, GrpcMessageField(requestKey, req, cfg.LogParamsBlocklist))
	}
	if cfg.LogResponses && resp != nil && !reflect.ValueOf(resp).IsZero() && err == nil {
		fields = append(fields, GrpcMessageField(responseKey, resp, cfg.LogParamsBlocklist))
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}

	msg := fmt.Sprintf("%s %s %s (%dms)", prefix, fullMethod, code, duration.Milliseconds())
	logger.FromContext(ctx).Named(componentName).Log(logger.Level(levelFor(cfg, code)), msg, fields...)
}

func levelFor(cfg *LoggingInterceptorConfig, code codes.Code) zapcore.Level {
	if code == codes.OK {
		return cfg.LogLevel
	}
	if level, ok := cfg.GrpcCodeLogLevel[code]; ok {
		return level
	}
	return cfg.ErrorLogLevel
}

// GrpcMessageField logs a protobuf message as JSON, with the masked paths pruned from a copy.
func GrpcMessageField(key string, message any, masks []fieldmaskpb.FieldMask) logger.Field {
	msg, ok := message.(proto.Message)
	if !ok {
		return PbField(key, message)
	}
	clone := proto.Clone(msg)
	for i := range masks {
		fmutils.Prune(clone, masks[i].GetPaths())
	}
	return PbField(key, clone)
}

// GetServiceAndMethod splits "/rainbow.orders.Orders/Get" into "rainbow.orders.Orders" and "Get".
func GetServiceAndMethod(fullMethod string) (string, string) {
	parts := methodRegex.FindStringSubmatch(fullMethod)
	if len(parts) < 3 {
		return "unknown", fullMethod
	}
	return parts[1], parts[2]
}

// PbField wraps a protobuf message in a field rendered with protojson.
func PbField(key string, pb any) logger.Field {
	if msg, ok := pb.(proto.Message); ok {
		return logger.Object(key, &pbZapField{msg})
	}
	return logger.Any(key, pb)
}

type pbZapField struct {
	pb proto.Message
}

func (p *pbZapField) MarshalLogObject(e zapcore.ObjectEncoder) error {
	return e.AddReflected("payload", p)
}

func (p *pbZapField) MarshalJSON() ([]byte, error) {
	b, err := protojson.Marshal(p.pb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf message to JSON: %w", err)
	}
	return b, nil
}
