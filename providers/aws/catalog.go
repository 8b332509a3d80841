package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"k8s.io/klog/v2"
)

// InstanceCatalog answers questions about hosting instance types
type InstanceCatalog struct {
	ec2Client     EC2API
	pricingClient PricingAPI
	region        string
}

// NewInstanceCatalog creates a catalog for region
func NewInstanceCatalog(ec2Client EC2API, pricingClient PricingAPI, region string) *InstanceCatalog {
	return &InstanceCatalog{
		ec2Client:     ec2Client,
		pricingClient: pricingClient,
		region:        region,
	}
}

// SupportedArchitectures returns the CPU architectures an instance type
// supports. instanceType is an EC2 name, without the "ml." prefix.
func (c *InstanceCatalog) SupportedArchitectures(ctx context.Context, instanceType string) ([]string, error) {
	result, err := c.ec2Client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance type %s: %w", instanceType, err)
	}
	if len(result.InstanceTypes) == 0 || result.InstanceTypes[0].ProcessorInfo == nil {
		return nil, fmt.Errorf("instance type %s not found", instanceType)
	}

	var archs []string
	for _, arch := range result.InstanceTypes[0].ProcessorInfo.SupportedArchitectures {
		archs = append(archs, string(arch))
	}
	return archs, nil
}

// SupportsArchitecture reports whether instanceType runs images built for arch
func (c *InstanceCatalog) SupportsArchitecture(ctx context.Context, instanceType, arch string) (bool, error) {
	archs, err := c.SupportedArchitectures(ctx, instanceType)
	if err != nil {
		return false, err
	}
	for _, a := range archs {
		if a == arch {
			return true, nil
		}
	}
	return false, nil
}

// HourlyPrice returns the on-demand USD price per hour of hosting one
// instance of instanceType ("ml." prefixed) in the catalog's region
func (c *InstanceCatalog) HourlyPrice(ctx context.Context, instanceType string) (float64, error) {
	result, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonSageMaker"),
		Filters: []pricingtypes.Filter{
			termMatch("instanceName", instanceType),
			termMatch("regionCode", c.region),
			termMatch("component", "Hosting"),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get pricing for %s: %w", instanceType, err)
	}

	for _, doc := range result.PriceList {
		price, err := onDemandUSD(doc)
		if err != nil {
			klog.FromContext(ctx).V(2).Info("Skipping unreadable price document", "instanceType", instanceType, "err", err)
			continue
		}
		if price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("no hosting price found for %s in %s", instanceType, c.region)
}

func termMatch(field, value string) pricingtypes.Filter {
	return pricingtypes.Filter{
		Field: aws.String(field),
		Type:  pricingtypes.FilterTypeTermMatch,
		Value: aws.String(value),
	}
}

type priceDocument struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// onDemandUSD extracts the first hourly USD price from a price list document
func onDemandUSD(doc string) (float64, error) {
	var pd priceDocument
	if err := json.Unmarshal([]byte(doc), &pd); err != nil {
		return 0, err
	}
	for _, term := range pd.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			if !strings.HasPrefix(strings.ToLower(dim.Unit), "hr") {
				continue
			}
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			return strconv.ParseFloat(usd, 64)
		}
	}
	return 0, fmt.Errorf("no hourly on-demand price")
}
