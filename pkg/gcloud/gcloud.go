// Package gcloud builds Google Cloud client options and the shared Firebase
// app used for messaging, Firestore and Auth.
package gcloud

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

var scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/firebase.messaging",
	"https://www.googleapis.com/auth/datastore",
	"https://www.googleapis.com/auth/pubsub",
}

// ClientOptions returns credentials from the given service-account file, or
// Application Default Credentials when the path is empty.
func ClientOptions(ctx context.Context, credentialsFile string) ([]option.ClientOption, error) {
	if credentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// NewFirebaseApp initialises the Firebase app for projectID.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	opts, err := ClientOptions(ctx, credentialsFile)
	if err != nil {
		return nil, err
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	return app, nil
}
