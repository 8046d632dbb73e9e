/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Binary consumer attaches to the shared buffer and gets <num_items> items from it.
//
//	consumer <consumer_id> <num_items>
package main

import (
	"os"

	"github.com/shmpc/shmpc/internal/cli"
	"github.com/shmpc/shmpc/internal/role"
)

func main() {
	os.Exit(cli.Main(role.KindConsumer, os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}
