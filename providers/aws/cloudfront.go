package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/stackform-io/stackform/internal/provider"
)

type DistributionConfig struct {
	Enabled               *bool                  `json:"enabled"`
	Comment               string                 `json:"comment"`
	PriceClass            string                 `json:"priceClass"`
	WebACLArn             string                 `json:"webAclArn"`
	Origins               []Origin               `json:"origins"`
	DefaultCacheBehavior  CacheBehaviorConfig    `json:"defaultCacheBehavior"`
	OrderedCacheBehaviors []OrderedCacheBehavior `json:"orderedCacheBehaviors"`
}

type Origin struct {
	DomainName            string `json:"domainName"`
	OriginID              string `json:"originId"`
	OriginAccessControlID string `json:"originAccessControlId"`
}

type CacheBehaviorConfig struct {
	TargetOriginID       string   `json:"targetOriginId"`
	ViewerProtocolPolicy string   `json:"viewerProtocolPolicy"`
	AllowedMethods       []string `json:"allowedMethods"`
}

type OrderedCacheBehavior struct {
	PathPattern          string   `json:"pathPattern"`
	TargetOriginID       string   `json:"targetOriginId"`
	ViewerProtocolPolicy string   `json:"viewerProtocolPolicy"`
	AllowedMethods       []string `json:"allowedMethods"`
}

type DistributionState struct {
	ID         string `json:"id"`
	ARN        string `json:"arn"`
	DomainName string `json:"domainName"`
	ETag       string `json:"etag"`
	Status     string `json:"status"`
}

func (p *Provider) applyDistribution(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired DistributionConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior DistributionState
	if len(req.PriorJSON) > 0 {
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	dc := buildDistributionConfig(&desired)

	if prior.ID != "" {
		// In-place update needs the current ETag.
		current, err := p.cloudfrontClient.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
			Id: &prior.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get distribution config: %w", err)
		}
		dc.CallerReference = current.DistributionConfig.CallerReference

		resp, err := p.cloudfrontClient.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 &prior.ID,
			IfMatch:            current.ETag,
			DistributionConfig: dc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update distribution: %w", err)
		}
		return distributionState(resp.Distribution, resp.ETag)
	}

	resp, err := p.cloudfrontClient.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: dc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution: %w", err)
	}
	return distributionState(resp.Distribution, resp.ETag)
}

func distributionState(d *cftypes.Distribution, etag *string) (*provider.ApplyResponse, error) {
	newState := DistributionState{
		ID:         *d.Id,
		ARN:        *d.ARN,
		DomainName: *d.DomainName,
		Status:     *d.Status,
	}
	if etag != nil {
		newState.ETag = *etag
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func buildDistributionConfig(desired *DistributionConfig) *cftypes.DistributionConfig {
	var origins []cftypes.Origin
	for _, o := range desired.Origins {
		origin := cftypes.Origin{
			Id:         strPtr(o.OriginID),
			DomainName: strPtr(o.DomainName),
			S3OriginConfig: &cftypes.S3OriginConfig{
				OriginAccessIdentity: strPtr(""),
			},
		}
		if o.OriginAccessControlID != "" {
			origin.OriginAccessControlId = strPtr(o.OriginAccessControlID)
		}
		origins = append(origins, origin)
	}

	var behaviors []cftypes.CacheBehavior
	for _, cb := range desired.OrderedCacheBehaviors {
		methods := toMethods(cb.AllowedMethods)
		behaviors = append(behaviors, cftypes.CacheBehavior{
			PathPattern:          strPtr(cb.PathPattern),
			TargetOriginId:       strPtr(cb.TargetOriginID),
			ViewerProtocolPolicy: cftypes.ViewerProtocolPolicy(cb.ViewerProtocolPolicy),
			AllowedMethods:       allowedMethods(methods),
			MinTTL:               i64Ptr(0),
			ForwardedValues:      defaultForwardedValues(),
			TrustedSigners: &cftypes.TrustedSigners{
				Enabled:  boolPtr(false),
				Quantity: i32Ptr(0),
			},
		})
	}

	enabled := true
	if desired.Enabled != nil {
		enabled = *desired.Enabled
	}
	comment := desired.Comment
	if comment == "" {
		comment = "Managed by stackform"
	}

	dc := &cftypes.DistributionConfig{
		CallerReference: strPtr(fmt.Sprintf("stackform-%d", time.Now().UnixNano())),
		Enabled:         boolPtr(enabled),
		Comment:         strPtr(comment),
		Origins: &cftypes.Origins{
			Quantity: i32Ptr(int32(len(origins))),
			Items:    origins,
		},
		DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
			TargetOriginId:       strPtr(desired.DefaultCacheBehavior.TargetOriginID),
			ViewerProtocolPolicy: cftypes.ViewerProtocolPolicy(desired.DefaultCacheBehavior.ViewerProtocolPolicy),
			AllowedMethods:       allowedMethods(toMethods(desired.DefaultCacheBehavior.AllowedMethods)),
			MinTTL:               i64Ptr(0),
			ForwardedValues:      defaultForwardedValues(),
		},
		CacheBehaviors: &cftypes.CacheBehaviors{
			Quantity: i32Ptr(int32(len(behaviors))),
			Items:    behaviors,
		},
	}

	if desired.PriceClass != "" {
		dc.PriceClass = cftypes.PriceClass(desired.PriceClass)
	}
	if desired.WebACLArn != "" {
		dc.WebACLId = strPtr(desired.WebACLArn)
	}
	return dc
}

func toMethods(input []string) []cftypes.Method {
	if len(input) == 0 {
		return []cftypes.Method{cftypes.MethodGet, cftypes.MethodHead}
	}
	var methods []cftypes.Method
	for _, m := range input {
		methods = append(methods, cftypes.Method(m))
	}
	return methods
}

func allowedMethods(methods []cftypes.Method) *cftypes.AllowedMethods {
	return &cftypes.AllowedMethods{
		Quantity: i32Ptr(int32(len(methods))),
		Items:    methods,
		CachedMethods: &cftypes.CachedMethods{
			Quantity: i32Ptr(2),
			Items:    []cftypes.Method{cftypes.MethodGet, cftypes.MethodHead},
		},
	}
}

func defaultForwardedValues() *cftypes.ForwardedValues {
	return &cftypes.ForwardedValues{
		Cookies:     &cftypes.CookiePreference{Forward: cftypes.ItemSelectionNone},
		QueryString: boolPtr(false),
	}
}

func (p *Provider) readDistribution(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	resp, err := p.cloudfrontClient.GetDistribution(ctx, &cloudfront.GetDistributionInput{Id: &req.ID})
	if err != nil {
		var nf *cftypes.NoSuchDistribution
		if errors.As(err, &nf) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read distribution: %w", err)
	}

	apply, err := distributionState(resp.Distribution, resp.ETag)
	if err != nil {
		return nil, err
	}
	return &provider.ReadResponse{Exists: true, NewStateJSON: apply.NewStateJSON}, nil
}

// deleteDistribution disables the distribution first when required, then
// deletes with the freshest ETag.
func (p *Provider) deleteDistribution(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior DistributionState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	if prior.ID == "" {
		return &provider.DeleteResponse{}, nil
	}

	current, err := p.cloudfrontClient.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: &prior.ID,
	})
	if err != nil {
		var nf *cftypes.NoSuchDistribution
		if errors.As(err, &nf) {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to get distribution config: %w", err)
	}

	etag := current.ETag
	if current.DistributionConfig.Enabled != nil && *current.DistributionConfig.Enabled {
		current.DistributionConfig.Enabled = boolPtr(false)
		upd, err := p.cloudfrontClient.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 &prior.ID,
			IfMatch:            etag,
			DistributionConfig: current.DistributionConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to disable distribution: %w", err)
		}
		etag = upd.ETag
	}

	_, err = p.cloudfrontClient.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      &prior.ID,
		IfMatch: etag,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete distribution: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}

type OriginAccessControlConfig struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	OriginType      string `json:"originType"`
	SigningBehavior string `json:"signingBehavior"`
	SigningProtocol string `json:"signingProtocol"`
}

type OriginAccessControlState struct {
	ID   string `json:"id"`
	ETag string `json:"etag"`
}

func (p *Provider) applyOriginAccessControl(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired OriginAccessControlConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	behavior := desired.SigningBehavior
	if behavior == "" {
		behavior = "always"
	}
	protocol := desired.SigningProtocol
	if protocol == "" {
		protocol = "sigv4"
	}

	cfg := &cftypes.OriginAccessControlConfig{
		Name:                          &desired.Name,
		OriginAccessControlOriginType: cftypes.OriginAccessControlOriginTypes(desired.OriginType),
		SigningBehavior:               cftypes.OriginAccessControlSigningBehaviors(behavior),
		SigningProtocol:               cftypes.OriginAccessControlSigningProtocols(protocol),
	}
	if desired.Description != "" {
		cfg.Description = &desired.Description
	}

	var prior OriginAccessControlState
	if len(req.PriorJSON) > 0 {
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" {
		current, err := p.cloudfrontClient.GetOriginAccessControl(ctx, &cloudfront.GetOriginAccessControlInput{
			Id: &prior.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get origin access control: %w", err)
		}
		resp, err := p.cloudfrontClient.UpdateOriginAccessControl(ctx, &cloudfront.UpdateOriginAccessControlInput{
			Id:                        &prior.ID,
			IfMatch:                   current.ETag,
			OriginAccessControlConfig: cfg,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update origin access control: %w", err)
		}
		newState := OriginAccessControlState{ID: *resp.OriginAccessControl.Id, ETag: *resp.ETag}
		stateJSON, _ := json.Marshal(newState)
		return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
	}

	resp, err := p.cloudfrontClient.CreateOriginAccessControl(ctx, &cloudfront.CreateOriginAccessControlInput{
		OriginAccessControlConfig: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create origin access control: %w", err)
	}

	newState := OriginAccessControlState{ID: *resp.OriginAccessControl.Id, ETag: *resp.ETag}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteOriginAccessControl(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior OriginAccessControlState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	if prior.ID == "" {
		return &provider.DeleteResponse{}, nil
	}

	current, err := p.cloudfrontClient.GetOriginAccessControl(ctx, &cloudfront.GetOriginAccessControlInput{
		Id: &prior.ID,
	})
	if err != nil {
		var nf *cftypes.NoSuchOriginAccessControl
		if errors.As(err, &nf) {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to get origin access control: %w", err)
	}

	_, err = p.cloudfrontClient.DeleteOriginAccessControl(ctx, &cloudfront.DeleteOriginAccessControlInput{
		Id:      &prior.ID,
		IfMatch: current.ETag,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete origin access control: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}
