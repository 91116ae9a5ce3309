package notify

import "fmt"

func requestReceivedMessage(senderID int64) string {
	return fmt.Sprintf("You have received a connection request from user: %d", senderID)
}

func requestAcceptedMessage(receiverID int64) string {
	return fmt.Sprintf("Your connection request has been accepted by user: %d", receiverID)
}

func postCreatedMessage(creatorID int64) string {
	return fmt.Sprintf("Your connection %d has created a new post. Check it out!", creatorID)
}

func postLikedMessage(likedByUserID, postID int64) string {
	return fmt.Sprintf("Your connection %d has liked your post %d.", likedByUserID, postID)
}
