package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/stackform-io/stackform/internal/provider"
)

type RoleConfig struct {
	Name             string            `json:"name"`
	AssumeRolePolicy string            `json:"assumeRolePolicy"`
	Description      string            `json:"description"`
	Tags             map[string]string `json:"tags"`
}

type RoleState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyRole(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior RoleState
	if len(req.PriorJSON) > 0 {
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.Name != "" {
		_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       &prior.Name,
			PolicyDocument: &desired.AssumeRolePolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update assume role policy: %w", err)
		}
		stateJSON, _ := json.Marshal(prior)
		return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, iamtypes.Tag{Key: strPtr(k), Value: strPtr(v)})
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	newState := RoleState{
		ID:   *resp.Role.RoleName,
		Name: *resp.Role.RoleName,
		ARN:  *resp.Role.Arn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) readRole(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &req.ID})
	if err != nil {
		var nf *iamtypes.NoSuchEntityException
		if errors.As(err, &nf) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read role: %w", err)
	}

	newState := RoleState{
		ID:   *resp.Role.RoleName,
		Name: *resp.Role.RoleName,
		ARN:  *resp.Role.Arn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ReadResponse{Exists: true, NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteRole(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior RoleState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	name := prior.Name
	if name == "" {
		name = req.ID
	}
	if name == "" {
		return &provider.DeleteResponse{}, nil
	}

	_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &name})
	if err != nil {
		var nf *iamtypes.NoSuchEntityException
		if errors.As(err, &nf) {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete role: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}

type PolicyConfig struct {
	Name        string `json:"name"`
	Policy      string `json:"policy"`
	Description string `json:"description"`
}

type PolicyState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyPolicy(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired PolicyConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior PolicyState
	if len(req.PriorJSON) > 0 {
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ARN != "" {
		// Managed policies update by pushing a new default version.
		_, err := p.iamClient.CreatePolicyVersion(ctx, &iam.CreatePolicyVersionInput{
			PolicyArn:      &prior.ARN,
			PolicyDocument: &desired.Policy,
			SetAsDefault:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update policy: %w", err)
		}
		stateJSON, _ := json.Marshal(prior)
		return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
	}

	input := &iam.CreatePolicyInput{
		PolicyName:     &desired.Name,
		PolicyDocument: &desired.Policy,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}

	resp, err := p.iamClient.CreatePolicy(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	newState := PolicyState{
		ID:   *resp.Policy.Arn,
		Name: *resp.Policy.PolicyName,
		ARN:  *resp.Policy.Arn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deletePolicy(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior PolicyState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	arn := prior.ARN
	if arn == "" {
		arn = req.ID
	}
	if arn == "" {
		return &provider.DeleteResponse{}, nil
	}

	// Non-default versions block deletion; prune them first.
	versions, err := p.iamClient.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{PolicyArn: &arn})
	if err == nil {
		for _, v := range versions.Versions {
			if !v.IsDefaultVersion {
				p.iamClient.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
					PolicyArn: &arn,
					VersionId: v.VersionId,
				})
			}
		}
	}

	_, err = p.iamClient.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: &arn})
	if err != nil {
		var nf *iamtypes.NoSuchEntityException
		if errors.As(err, &nf) {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete policy: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}
