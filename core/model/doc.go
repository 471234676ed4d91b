// Package model holds the station domain types shared by the allocation
// engine: trains, resources, occupancy and the station state document.
package model
