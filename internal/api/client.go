package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"markethours/internal/domain"
	"markethours/internal/oracle"
	"markethours/internal/pda"
)

// Client talks to an oracle server over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client targeting the given gRPC address.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, method string, req any, out any) error {
	var in proto.Message = &emptypb.Empty{}
	if req != nil {
		s, err := toStruct(req)
		if err != nil {
			return err
		}
		in = s
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, reply); err != nil {
		return err
	}
	return fromStruct(reply, out)
}

func (c *Client) receipt(ctx context.Context, method string, req any) (*domain.Receipt, error) {
	var rc domain.Receipt
	if err := c.call(ctx, method, req, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// CreateOracle runs create_oracle. A zero payer means the signer pays.
func (c *Client) CreateOracle(ctx context.Context, signer, payer pda.Address) (*domain.Receipt, error) {
	return c.receipt(ctx, MethodCreateOracle, CreateRequest{Signer: signer, Payer: payer})
}

// CrankOracle runs crank_oracle.
func (c *Client) CrankOracle(ctx context.Context, signer pda.Address) (*domain.Receipt, error) {
	return c.receipt(ctx, MethodCrankOracle, CrankRequest{Signer: signer})
}

// Airdrop credits an address.
func (c *Client) Airdrop(ctx context.Context, to pda.Address, lamports uint64) (*domain.Receipt, error) {
	return c.receipt(ctx, MethodAirdrop, AirdropRequest{Address: to, Lamports: lamports})
}

// Status returns the oracle status.
func (c *Client) Status(ctx context.Context) (*oracle.Status, error) {
	var st oracle.Status
	if err := c.call(ctx, MethodGetStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Clock returns the server's market clock view.
func (c *Client) Clock(ctx context.Context) (*oracle.ClockView, error) {
	var v oracle.ClockView
	if err := c.call(ctx, MethodGetClock, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Balance returns the lamports held at addr.
func (c *Client) Balance(ctx context.Context, addr pda.Address) (uint64, error) {
	var resp BalanceResponse
	if err := c.call(ctx, MethodGetBalance, BalanceRequest{Address: addr}, &resp); err != nil {
		return 0, err
	}
	return resp.Lamports, nil
}

// Receipts lists receipts created in [start, end), newest first. Zero times
// select the last day.
func (c *Client) Receipts(ctx context.Context, start, end time.Time, limit int) ([]domain.Receipt, error) {
	var resp ReceiptsResponse
	req := ReceiptsRequest{Start: start, End: end, Limit: limit}
	if err := c.call(ctx, MethodListReceipts, req, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

// WatchReceipts calls fn for every receipt the server records until ctx is
// cancelled, the stream ends, or fn returns an error.
func (c *Client) WatchReceipts(ctx context.Context, fn func(domain.Receipt) error) error {
	stream, err := c.conn.NewStream(ctx, &oracleServiceDesc.Streams[0], fullMethod(MethodWatchReceipts))
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving receipt: %w", err)
		}
		var rc domain.Receipt
		if err := fromStruct(msg, &rc); err != nil {
			return err
		}
		if err := fn(rc); err != nil {
			return err
		}
	}
}
