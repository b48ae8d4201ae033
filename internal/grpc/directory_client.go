package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// Full method names of the directory service. Requests and responses are
// google.protobuf.Struct messages.
const (
	MethodGetRoom    = "/directory.Directory/GetRoom"
	MethodGetProfile = "/directory.Directory/GetProfile"
)

// Dial connects to the directory service with tracing and metrics.
func Dial(addr string) (*grpclib.ClientConn, error) {
	return grpclib.NewClient(addr,
		grpclib.WithTransportCredentials(insecure.NewCredentials()),
		grpclib.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpclib.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// DirectoryClient resolves room and profile metadata over gRPC.
type DirectoryClient struct {
	conn grpclib.ClientConnInterface
}

// NewDirectoryClient constructs the wrapper.
func NewDirectoryClient(conn grpclib.ClientConnInterface) *DirectoryClient {
	return &DirectoryClient{conn: conn}
}

// RoomInfo fetches a room's display metadata.
func (d *DirectoryClient) RoomInfo(ctx context.Context, roomID string) (models.RoomInfo, error) {
	resp, err := d.invoke(ctx, MethodGetRoom, map[string]interface{}{"room_id": roomID})
	if err != nil {
		return models.RoomInfo{}, err
	}
	fields := resp.GetFields()
	info := models.RoomInfo{
		ID:      fields["id"].GetStringValue(),
		Name:    fields["name"].GetStringValue(),
		Avatar:  fields["avatar"].GetStringValue(),
		IsGroup: fields["is_group"].GetBoolValue(),
	}
	if info.ID == "" {
		return models.RoomInfo{}, models.ErrNotFound
	}
	return info, nil
}

// Profile fetches a user's basic profile.
func (d *DirectoryClient) Profile(ctx context.Context, userID string) (models.Profile, error) {
	resp, err := d.invoke(ctx, MethodGetProfile, map[string]interface{}{"user_id": userID})
	if err != nil {
		return models.Profile{}, err
	}
	fields := resp.GetFields()
	profile := models.Profile{
		ID:          fields["id"].GetStringValue(),
		DisplayName: fields["display_name"].GetStringValue(),
		Avatar:      fields["avatar"].GetStringValue(),
	}
	if profile.ID == "" {
		return models.Profile{}, models.ErrNotFound
	}
	return profile, nil
}

func (d *DirectoryClient) invoke(ctx context.Context, method string, req map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := d.conn.Invoke(ctx, method, in, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("directory %s: %w", method, err)
	}
	return out, nil
}
