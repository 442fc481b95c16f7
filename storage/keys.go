package storage

const keyPrefix = "SPLITIO."

const flagsTillKey = keyPrefix + "splits.till"

const flagNamesKey = keyPrefix + "splits"

func flagKey(name string) string {
	return keyPrefix + "split." + name
}

func segmentKey(name string) string {
	return keyPrefix + "segment." + name
}

func segmentTillKey(name string) string {
	return keyPrefix + "segment." + name + ".till"
}
