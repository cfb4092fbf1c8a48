/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"os"
	"strings"
	"testing"
)

type Config struct {
	URLs     []string
	Database string
	CertPath string
}

var globalTestConfig *Config

// GetTestConfig returns the configuration for tests which run against a real
// cluster.  Those tests are skipped unless RAVENTEST_URLS is set.
func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{
			Database: "test",
		}

		envURLs := os.Getenv("RAVENTEST_URLS")
		if envURLs != "" {
			testConfig.URLs = strings.Split(envURLs, ",")
		}

		envDatabase := os.Getenv("RAVENTEST_DATABASE")
		if envDatabase != "" {
			testConfig.Database = envDatabase
		}

		testConfig.CertPath = os.Getenv("RAVENTEST_CERT")

		t.Logf("initialized test configuration")
		t.Logf("  urls: %s", strings.Join(testConfig.URLs, ","))
		t.Logf("  database: %s", testConfig.Database)
		t.Logf("  cert: %s", testConfig.CertPath)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}

func SkipIfNoLiveCluster(t *testing.T) *Config {
	testConfig := GetTestConfig(t)
	if len(testConfig.URLs) == 0 {
		t.Skip("skipping live cluster test, RAVENTEST_URLS is not set")
	}
	return testConfig
}
