/*
Copyright © 2026 the Multirate authors.
This file is part of Multirate.

Multirate is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Multirate is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Multirate.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package multirate couples independently time-stepped simulation
// components that run at different, integer-multiple time steps over a
// shared simulation period. A Clock drives a global discrete time loop on
// the finest common time grid (the supermesh) and decides, at each tick,
// which components run and when a checkpoint is due. An Exchanger stores
// each component's outputs and serves them to consumers running at a
// different rate, aggregating sub-steps or holding a value steady as
// required. A per-component State buffer gives numerical schemes indexed
// access to several previous time steps. Runs are resumable: checkpoints
// round-trip the raw Exchanger rings and all State history through netCDF
// dump files so a resumed run reproduces bit-identical results.
package multirate

// Version gives the version number of this version of Multirate.
const Version = "1.0.0"
