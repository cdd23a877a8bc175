// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config builds the run configuration for a migration.
//
// 🎯 Purpose:
// - Loads an optional config file (.hcl, .yaml/.yml, .json)
// - Overlays FAMIGRATE_* variables, read from the process or a .env file
// - Validates the result before a run starts
//
// 🔄 Flow:
//  1. Default() supplies the extension and the copy engine
//  2. Load parses the file with the parser registered for its extension
//  3. ApplyEnv overrides individual fields
//  4. The CLI applies its flags
//  5. Validate checks tags, rename rules, ignore globs and the two roots
//
// 🔍 Example:
//
//	lookup, err := config.EnvLookup(ctx, ".env")
//	if err != nil {
//		return err
//	}
//	cfg, err := config.Resolve(ctx, "famigrate.hcl", lookup)
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// An HCL file looks like:
//
//	source      = "/srv/library/2019"
//	destination = "/srv/library/2024"
//	ignore      = ["**/Archive/**"]
//
//	rename {
//	  name = "legacy"
//	  from = "LEGACY "
//	  to   = ""
//	}
//
//	engine {
//	  kind    = "command"
//	  command = ["rvtupgrade", "{source}", "{destination}"]
//	}
package config
