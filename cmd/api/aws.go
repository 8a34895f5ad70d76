package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/dental-outreach/cmd/mainconfig"
	appconfig "github.com/wolfman30/dental-outreach/internal/config"
)

type awsDeps struct {
	sqs *sqs.Client
	ses *sesv2.Client
}

func setupAWS(ctx context.Context, cfg *appconfig.Config) (*awsDeps, error) {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &awsDeps{
		sqs: mainconfig.NewSQSClient(awsCfg, cfg),
		ses: mainconfig.NewSESClient(awsCfg, cfg),
	}, nil
}

func (d *awsDeps) sesClient() *sesv2.Client {
	if d == nil {
		return nil
	}
	return d.ses
}
