/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package secretsmanager

import (
	"context"
	"encoding/pem"
	"fmt"
	"strings"

	gcpsecretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// FetchAWSIdentity fetches a PEM client identity stored as a string secret in
// AWS Secrets Manager.
func FetchAWSIdentity(ctx context.Context, secretId string, region string) ([]byte, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default aws config: %w", err)
	}

	secrets := secretsmanager.NewFromConfig(cfg)
	res, err := secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretId})
	if err != nil {
		return nil, fmt.Errorf("failed to get aws secret: %w", err)
	}
	if res.SecretString == nil {
		return nil, fmt.Errorf("aws secret %s not a string", secretId)
	}

	return IdentityFromSecret(*res.SecretString)
}

// FetchAzureIdentity fetches a PEM client identity from an Azure key vault.
func FetchAzureIdentity(ctx context.Context, secretId string, keyVaultName string) ([]byte, error) {
	vaultURI := fmt.Sprintf("https://%s.vault.azure.net/", keyVaultName)

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURI, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	// An empty version gets the latest version of the secret.
	resp, err := client.GetSecret(ctx, secretId, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get azure secret: %w", err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("azure secret %s has no value", secretId)
	}

	return IdentityFromSecret(*resp.Value)
}

// FetchGcpIdentity fetches a PEM client identity from GCP Secret Manager.
func FetchGcpIdentity(ctx context.Context, secretId string, projectId string) ([]byte, error) {
	client, err := gcpsecretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcp secretmanager client: %w", err)
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectId, secretId),
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get gcp secret: %w", err)
	}

	return IdentityFromSecret(string(result.Payload.Data))
}

// IdentityFromSecret checks that a secret holds both a certificate and a
// private key in PEM form.  Secret stores frequently mangle newlines into
// literal `\n` sequences, these are restored first.
func IdentityFromSecret(secret string) ([]byte, error) {
	data := []byte(strings.TrimSpace(strings.ReplaceAll(secret, `\n`, "\n")) + "\n")

	hasCert := false
	hasKey := false
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch {
		case block.Type == "CERTIFICATE":
			hasCert = true
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			hasKey = true
		}
	}

	if !hasCert || !hasKey {
		return nil, fmt.Errorf("client identity secret must contain a PEM certificate and private key")
	}

	return data, nil
}
