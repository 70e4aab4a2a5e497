package main

import (
	"path/filepath"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

// NewMetricwatchStack defines the ingestor and freshness Lambdas and the
// EventBridge schedules that drive them.
func NewMetricwatchStack(scope constructs.Construct, id string, cfg StackConfig) awscdk.Stack {
	stack := awscdk.NewStack(scope, &id, nil)

	secret := awssecretsmanager.Secret_FromSecretCompleteArn(stack, jsii.String("DatabaseSecret"), jsii.String(cfg.DatabaseSecretARN))

	commonEnv := map[string]*string{
		"DATABASE_SECRET_ARN": jsii.String(cfg.DatabaseSecretARN),
		"OPS_EMAIL":           jsii.String(cfg.OpsEmail),
		"ALERT_FROM":          jsii.String(cfg.AlertFrom),
	}
	if cfg.RedisAddr != "" {
		commonEnv["REDIS_ADDR"] = jsii.String(cfg.RedisAddr)
	}
	if cfg.OTLPEndpoint != "" {
		commonEnv["OTEL_EXPORTER_OTLP_ENDPOINT"] = jsii.String(cfg.OTLPEndpoint)
	}

	memorySize := jsii.Number(cfg.MemorySize)
	logRetention := logRetentionDays(cfg.LogRetentionDays)

	makeFn := func(name string, timeout float64, concurrency *float64) awslambda.Function {
		env := make(map[string]*string, len(commonEnv))
		for k, v := range commonEnv {
			env[k] = v
		}
		fn := awslambda.NewFunction(stack, jsii.String(name), &awslambda.FunctionProps{
			FunctionName: jsii.String(cfg.Name + "-" + name),
			Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
			Handler:      jsii.String("bootstrap"),
			Code:         awslambda.Code_FromAsset(jsii.String(filepath.Join(cfg.LambdaDistDir, name)), nil),
			Architecture: awslambda.Architecture_ARM_64(),
			MemorySize:   memorySize,
			Timeout:      awscdk.Duration_Seconds(jsii.Number(timeout)),
			Environment:  &env,
			LogRetention: logRetention,

			ReservedConcurrentExecutions: concurrency,
		})
		secret.GrantRead(fn, nil)
		fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Actions:   &[]*string{jsii.String("ses:SendEmail")},
			Resources: &[]*string{jsii.String("*")},
		}))
		return fn
	}

	// One concurrent ingest so a slow pass never overlaps the next tick.
	ingestorFn := makeFn("ingestor", cfg.IngestTimeout, jsii.Number(1))
	freshnessFn := makeFn("freshness", cfg.FreshnessTimeout, nil)

	schedule := func(name, rate string, fn awslambda.Function) {
		awsevents.NewRule(stack, jsii.String(name), &awsevents.RuleProps{
			RuleName: jsii.String(cfg.Name + "-" + name),
			Schedule: awsevents.Schedule_Expression(jsii.String("rate(" + rate + ")")),
			Targets:  &[]awsevents.IRuleTarget{awseventstargets.NewLambdaFunction(fn, nil)},
		})
	}
	schedule("ingest-schedule", cfg.IngestRate, ingestorFn)
	schedule("freshness-schedule", cfg.FreshnessRate, freshnessFn)

	awscdk.NewCfnOutput(stack, jsii.String("IngestorFunctionArn"), &awscdk.CfnOutputProps{
		Value: ingestorFn.FunctionArn(),
	})
	awscdk.NewCfnOutput(stack, jsii.String("FreshnessFunctionArn"), &awscdk.CfnOutputProps{
		Value: freshnessFn.FunctionArn(),
	})

	return stack
}

func logRetentionDays(days float64) awslogs.RetentionDays {
	switch days {
	case 1:
		return awslogs.RetentionDays_ONE_DAY
	case 3:
		return awslogs.RetentionDays_THREE_DAYS
	case 5:
		return awslogs.RetentionDays_FIVE_DAYS
	case 7:
		return awslogs.RetentionDays_ONE_WEEK
	case 14:
		return awslogs.RetentionDays_TWO_WEEKS
	case 30:
		return awslogs.RetentionDays_ONE_MONTH
	case 90:
		return awslogs.RetentionDays_THREE_MONTHS
	case 365:
		return awslogs.RetentionDays_ONE_YEAR
	default:
		return awslogs.RetentionDays_ONE_WEEK
	}
}
