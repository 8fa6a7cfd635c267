package database

// AddStoryToOwner открывает добавление ссылки владельца для тестов идемпотентности.
var AddStoryToOwner = addStoryToOwner
