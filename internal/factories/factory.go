// Package factories builds realistic orders and payment fixtures for tests
// and local runs.
package factories

import "github.com/jaswdr/faker"

var fake = faker.New()
