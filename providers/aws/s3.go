package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/stackform-io/stackform/internal/provider"
)

type BucketConfig struct {
	Bucket            string            `json:"bucket"`
	ACL               string            `json:"acl"`
	Versioning        bool              `json:"versioning"`
	ForceDestroy      bool              `json:"forceDestroy"`
	BlockPublicAccess bool              `json:"blockPublicAccess"`
	Tags              map[string]string `json:"tags"`
}

type BucketState struct {
	ID     string `json:"id"`
	Bucket string `json:"bucket"`
	ARN    string `json:"arn"`
	Region string `json:"region"`
}

// planBucket checks the live bucket before diffing so a bucket deleted
// out of band is planned as a create, not an update.
func (p *Provider) planBucket(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if len(req.PriorJSON) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior BucketConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if prior.Bucket != "" {
		_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &prior.Bucket})
		if err != nil {
			var ae smithy.APIError
			if errors.As(err, &ae) && (ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket") {
				return &provider.PlanResponse{Action: provider.ActionCreate}, nil
			}
			return nil, fmt.Errorf("failed to check bucket existence: %w", err)
		}
	}

	return genericPlan(req)
}

func (p *Provider) applyBucket(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: &desired.Bucket}
	// us-east-1 rejects an explicit LocationConstraint.
	if p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}

	_, err := p.s3Client.CreateBucket(ctx, input)
	if err != nil {
		var ae smithy.APIError
		// Creating a bucket we already own is idempotent.
		if !errors.As(err, &ae) || ae.ErrorCode() != "BucketAlreadyOwnedByYou" {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if desired.BlockPublicAccess {
		_, err := p.s3Client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
			Bucket: &desired.Bucket,
			PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       boolPtr(true),
				BlockPublicPolicy:     boolPtr(true),
				IgnorePublicAcls:      boolPtr(true),
				RestrictPublicBuckets: boolPtr(true),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to block public access: %w", err)
		}
	}

	if desired.Versioning {
		_, err := p.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: &desired.Bucket,
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable versioning: %w", err)
		}
	}

	if len(desired.Tags) > 0 {
		var tags []s3types.Tag
		for k, v := range desired.Tags {
			tags = append(tags, s3types.Tag{Key: strPtr(k), Value: strPtr(v)})
		}
		_, err := p.s3Client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  &desired.Bucket,
			Tagging: &s3types.Tagging{TagSet: tags},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag bucket: %w", err)
		}
	}

	newState := BucketState{
		ID:     desired.Bucket,
		Bucket: desired.Bucket,
		ARN:    fmt.Sprintf("arn:aws:s3:::%s", desired.Bucket),
		Region: p.region,
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) readBucket(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &req.ID})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && (ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read bucket: %w", err)
	}
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentJSON}, nil
}

func (p *Provider) deleteBucket(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior BucketState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	bucket := prior.Bucket
	if bucket == "" {
		bucket = req.ID
	}
	if bucket == "" {
		return &provider.DeleteResponse{}, nil
	}

	if err := p.emptyBucket(ctx, bucket); err != nil {
		return nil, err
	}

	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucket})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && (ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket") {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete bucket: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}

// emptyBucket removes remaining objects so DeleteBucket succeeds.
func (p *Provider) emptyBucket(ctx context.Context, bucket string) error {
	var token *string
	for {
		list, err := p.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			ContinuationToken: token,
		})
		if err != nil {
			var ae smithy.APIError
			if errors.As(err, &ae) && (ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket") {
				return nil
			}
			return fmt.Errorf("failed to list objects in %s: %w", bucket, err)
		}
		if len(list.Contents) == 0 {
			return nil
		}

		var objects []s3types.ObjectIdentifier
		for _, obj := range list.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = p.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &bucket,
			Delete: &s3types.Delete{Objects: objects, Quiet: boolPtr(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in %s: %w", bucket, err)
		}

		if list.IsTruncated == nil || !*list.IsTruncated {
			return nil
		}
		token = list.NextContinuationToken
	}
}

type BucketPolicyConfig struct {
	Bucket string `json:"bucket"`
	Policy string `json:"policy"`
}

type BucketPolicyState struct {
	ID     string `json:"id"`
	Bucket string `json:"bucket"`
}

func (p *Provider) applyBucketPolicy(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired BucketPolicyConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	_, err := p.s3Client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: &desired.Bucket,
		Policy: &desired.Policy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put bucket policy: %w", err)
	}

	newState := BucketPolicyState{ID: desired.Bucket, Bucket: desired.Bucket}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteBucketPolicy(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior BucketPolicyState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	if prior.Bucket == "" {
		return &provider.DeleteResponse{}, nil
	}

	_, err := p.s3Client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: &prior.Bucket})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && (ae.ErrorCode() == "NoSuchBucket" || ae.ErrorCode() == "NoSuchBucketPolicy") {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete bucket policy: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}
