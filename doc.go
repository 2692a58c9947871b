// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package fuse holds the small set of errno values shared between the
// fuseops and fuseutil packages.
//
// The rest of this module builds a FAT32 file system engine on top of the
// op-struct contract defined in fuseutil.FileSystem; see samples/fat32fs for
// an implementation of that interface and fat32 for the engine itself.
package fuse
