// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// ParseContextSettings parses settings, typically the value of the "-set" flag, and updates the
// hyperparameters in ctx. The settings are a list separated by ";": "param1=value1;param2=value2".
//
// Every parameter must already be set in the root of ctx: its current value gives the type to which
// the new value is parsed. A scope can be given as an absolute path, e.g. "/model/conv_depth=16",
// in which case the parameter is set only in that scope.
//
// For integer values "_" is accepted as a digit separator, as in Go: 1_000 = 1000.
//
// The parameters listed in fixed can't be set, in any scope: they are configured elsewhere.
//
// It returns the parameters set, in order.
func ParseContextSettings(ctx *context.Context, settings string, fixed ...string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		var paramPath string
		paramPath, err = parseContextSetting(ctx, setting, fixed)
		if err != nil {
			return
		}
		paramsSet = append(paramsSet, paramPath)
	}
	return
}

func parseContextSetting(ctx *context.Context, setting string, fixed []string) (paramPath string, err error) {
	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found || paramPath == "" {
		return "", errors.Errorf("can't parse setting %q: the format is \"<param>=<value>\"", setting)
	}
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		return "", errors.Errorf("can't set parameter %q: its scope must be absolute (start with %q)",
			paramPath, context.ScopeSeparator)
	}
	if slices.Contains(fixed, paramName) {
		return "", errors.Errorf("hyperparameter %q can't be changed by settings, use its own flag", paramName)
	}
	current, found := ctx.GetParam(paramName)
	if !found {
		return "", errors.Errorf("unknown hyperparameter %q, known ones are: %s",
			paramName, strings.Join(rootParams(ctx), ", "))
	}

	var value any
	switch current.(type) {
	case int:
		value, err = strconv.Atoi(strings.ReplaceAll(valueStr, "_", ""))
	case int64:
		value, err = strconv.ParseInt(strings.ReplaceAll(valueStr, "_", ""), 10, 64)
	case float64:
		value, err = strconv.ParseFloat(valueStr, 64)
	case bool:
		value, err = strconv.ParseBool(valueStr)
	case string:
		value = valueStr
	default:
		err = errors.Errorf("don't know how to parse type %T", current)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse value %q for parameter %q (current value is %#v)",
			valueStr, paramPath, current)
	}

	ctxInScope := ctx
	if paramScope != "" {
		ctxInScope = ctx.InAbsPath(paramScope)
	}
	ctxInScope.SetParam(paramName, value)
	return paramPath, nil
}

// rootParams returns the sorted names of the parameters set in the root scope of ctx.
func rootParams(ctx *context.Context) []string {
	var names []string
	ctx.EnumerateParams(func(scope, key string, _ any) {
		if scope == context.RootScope {
			names = append(names, key)
		}
	})
	slices.Sort(names)
	return names
}

// SprintContextSettings pretty-prints the hyperparameters of ctx, one per line.
func SprintContextSettings(ctx *context.Context) string {
	var parts []string
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			scope = ""
		}
		parts = append(parts, fmt.Sprintf("\t\"%s/%s\": (%T) %v", scope, key, value, value))
	})
	return strings.Join(parts, "\n")
}
