// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import "regexp"

// Bearer tokens and signed URLs routinely end up in request logs; scrub
// them before the line reaches any sink.
var replacers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(token=)[^&\s"]+`), "$1***************"},
	{regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9\-_.]+`), "$1***************"},
	{regexp.MustCompile(`(?i)(jwt_secret_key[=:]\s*)\S+`), "$1***************"},
	{regexp.MustCompile(`(postgres(?:ql)?://[^:/\s]+:)[^@\s]+(@)`), "$1********$2"},
}

func scrub(s string) string {
	for _, r := range replacers {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}
