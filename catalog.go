package main

import (
	"crypto/rand"
)

// GameObject is one entry in the static prompt catalog. Read-only at runtime.
type GameObject struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	CanFly bool   `json:"canFly"`
}

var gameObjects = []GameObject{
	{Name: "Bird", Image: "/images/bird.png", CanFly: true},
	{Name: "Airplane", Image: "/images/airplane.png", CanFly: true},
	{Name: "Butterfly", Image: "/images/butterfly.png", CanFly: true},
	{Name: "Bee", Image: "/images/bee.png", CanFly: true},
	{Name: "Helicopter", Image: "/images/helicopter.png", CanFly: true},
	{Name: "Rocket", Image: "/images/rocket.png", CanFly: true},
	{Name: "Bat", Image: "/images/bat.png", CanFly: true},
	{Name: "Dog", Image: "/images/dog.png", CanFly: false},
	{Name: "Cat", Image: "/images/cat.png", CanFly: false},
	{Name: "Car", Image: "/images/car.png", CanFly: false},
	{Name: "Fish", Image: "/images/fish.png", CanFly: false},
	{Name: "Elephant", Image: "/images/elephant.png", CanFly: false},
	{Name: "Penguin", Image: "/images/penguin.png", CanFly: false},
}

// newRoundSequence shuffles a copy of the catalog and truncates it to at most
// n entries, one slot per second of round duration. The scheduler wraps around
// the sequence if the round outlasts it.
func newRoundSequence(n int) []GameObject {
	objects := make([]GameObject, len(gameObjects))
	copy(objects, gameObjects)

	// Fisher-Yates shuffle using crypto/rand
	for i := len(objects) - 1; i > 0; i-- {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		j := int(b[0]) % (i + 1)
		objects[i], objects[j] = objects[j], objects[i]
	}

	if n > 0 && n < len(objects) {
		objects = objects[:n]
	}

	return objects
}
