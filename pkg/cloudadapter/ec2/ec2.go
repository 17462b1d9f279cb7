// Package ec2 is the production cloudadapter.Adapter: it talks to real
// AWS EC2 over aws-sdk-go-v2. Only the handful of EC2 operations the
// supervisor actually needs are declared as an interface, following the
// narrow hand-rolled EC2API idiom rather than depending on the full SDK
// client struct directly, so a test can substitute a stub without
// reaching for HTTP mocking.
package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cuemby/fleetwatch/pkg/cloudadapter"
)

// API is the subset of the EC2 client the adapter calls.
type API interface {
	DescribeInstances(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RebootInstances(context.Context, *ec2.RebootInstancesInput, ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
	TerminateInstances(context.Context, *ec2.TerminateInstancesInput, ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CancelSpotInstanceRequests(context.Context, *ec2.CancelSpotInstanceRequestsInput, ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error)
}

// Handle wraps the raw EC2 instance description the adapter resolved.
type Handle struct {
	id  string
	raw types.Instance
}

func (h *Handle) ID() string { return h.id }

// SpotRequestID returns the spot instance request id backing this
// instance, if any, so a caller constructing an Instance knows whether
// Terminate needs to cancel a spot request first.
func (h *Handle) SpotRequestID() string { return aws.ToString(h.raw.SpotInstanceRequestId) }

// Adapter implements cloudadapter.Adapter against a live EC2 API. Unlike
// the mock, UserData is read once from the instance metadata service
// rather than from a seeded map.
type Adapter struct {
	api    API
	imds   UserDataFetcher
	region string
}

// UserDataFetcher abstracts IMDS so tests can substitute a canned
// response instead of reaching the real metadata endpoint.
type UserDataFetcher interface {
	GetUserData(ctx context.Context) (map[string]string, error)
}

// New creates an Adapter over api, using fetcher for UserData.
func New(api API, fetcher UserDataFetcher, region string) *Adapter {
	return &Adapter{api: api, imds: fetcher, region: region}
}

func (a *Adapter) Resolve(ctx context.Context, id string) (cloudadapter.Handle, error) {
	out, err := a.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, fmt.Errorf("ec2: describe instances %s: %w", id, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) == id {
				return &Handle{id: id, raw: inst}, nil
			}
		}
	}
	return nil, cloudadapter.ErrNotFound
}

func (a *Adapter) StateOf(ctx context.Context, handle cloudadapter.Handle) (cloudadapter.PowerState, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return cloudadapter.Unknown, cloudadapter.ErrNotFound
	}
	// Re-resolve rather than trust the cached raw description: power
	// state is exactly the field that goes stale between ticks.
	fresh, err := a.Resolve(ctx, h.id)
	if err != nil {
		return cloudadapter.Unknown, err
	}
	freshHandle := fresh.(*Handle)
	if freshHandle.raw.State == nil {
		return cloudadapter.Unknown, nil
	}
	return mapState(freshHandle.raw.State.Name), nil
}

func mapState(name types.InstanceStateName) cloudadapter.PowerState {
	switch name {
	case types.InstanceStateNamePending:
		return cloudadapter.Pending
	case types.InstanceStateNameRunning:
		return cloudadapter.Running
	case types.InstanceStateNameStopping:
		return cloudadapter.Stopping
	case types.InstanceStateNameStopped:
		return cloudadapter.Stopped
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return cloudadapter.Terminated
	default:
		return cloudadapter.StateError
	}
}

func (a *Adapter) Reboot(ctx context.Context, handle cloudadapter.Handle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return cloudadapter.ErrNotFound
	}
	_, err := a.api.RebootInstances(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []string{h.id},
	})
	if err != nil {
		return &cloudadapter.MutationError{Op: "reboot", Err: err}
	}
	return nil
}

func (a *Adapter) Terminate(ctx context.Context, id string, spotRequestID string) (bool, error) {
	if spotRequestID != "" {
		// Cancel the spot request first so AWS does not simply relaunch a
		// replacement the moment the instance is torn down.
		if _, err := a.api.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
			SpotInstanceRequestIds: []string{spotRequestID},
		}); err != nil {
			return false, fmt.Errorf("ec2: cancel spot request %s: %w", spotRequestID, err)
		}
	}

	out, err := a.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return false, fmt.Errorf("ec2: terminate instances %s: %w", id, err)
	}
	for _, sc := range out.TerminatingInstances {
		if aws.ToString(sc.InstanceId) == id {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) UserData(ctx context.Context) (map[string]string, error) {
	return a.imds.GetUserData(ctx)
}

// Discover lists the ids of every non-terminated EC2 instance tagged
// fleetwatch-managed=true, so a freshly-started master can seed its
// registry before the first inbox message or monitor tick arrives.
func (a *Adapter) Discover(ctx context.Context) ([]string, error) {
	out, err := a.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:fleetwatch-managed"), Values: []string{"true"}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ec2: discover managed instances: %w", err)
	}

	var ids []string
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
	}
	return ids, nil
}
