package ec2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// IMDSFetcher reads the instance's own user-data document from the
// metadata service. This is what a worker-side process would use to
// discover its own role and master address; the master adapter mostly
// exists to satisfy the Adapter interface's UserData method uniformly.
type IMDSFetcher struct {
	client *imds.Client
}

// NewIMDSFetcher creates an IMDSFetcher using the default IMDS client.
func NewIMDSFetcher() *IMDSFetcher {
	return &IMDSFetcher{client: imds.New(imds.Options{})}
}

func (f *IMDSFetcher) GetUserData(ctx context.Context) (map[string]string, error) {
	out, err := f.client.GetUserData(ctx, &imds.GetUserDataInput{})
	if err != nil {
		return nil, fmt.Errorf("imds: get user data: %w", err)
	}
	defer out.Content.Close()

	raw, err := io.ReadAll(out.Content)
	if err != nil {
		return nil, fmt.Errorf("imds: read user data: %w", err)
	}

	data := make(map[string]string)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("imds: user data is not a flat JSON object: %w", err)
	}
	return data, nil
}
